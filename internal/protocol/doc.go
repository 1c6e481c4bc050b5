// Package protocol encodes the line-oriented command protocol spoken by
// node processes on their standard input.
//
// One command per line, fields separated by ", ":
//
//	initialize, <host>, <port>, <resourceEndowment>
//	join, <seedHost>, <seedPort>
//	snapshot
//	disconnect
//	restore
//
// Encoding is pure: the same arguments always yield the same line and no
// I/O happens here. Parse is the inverse and is lenient about whitespace.
package protocol
