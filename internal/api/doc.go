// Package api はシナリオ実行を操作するHTTP/WebSocket APIを提供する。
//
// 同時に実行できるシナリオは1つだけ。/ws に接続するとイベントバスの
// イベントと実行中のステータスが1秒ごとに配信される。
package api
