// Package output aggregates the output streams of all node processes.
//
// Every process instance is attached as a source; one goroutine per source
// reads whole lines and appends them to a single record under a lock, so a
// line is never split or interleaved with another. Each line is stamped
// with a sequence number at capture time. Order within one source is
// preserved; order across sources is best effort.
//
// Consumers either take a copy (Lines, Since) or poll with a Reader:
//
//	r := agg.NewReader()
//	for {
//	    line, ok := r.Next()
//	    if !ok {
//	        if err := r.Wait(ctx); err != nil {
//	            break // io.EOF after Close, or ctx error
//	        }
//	        continue
//	    }
//	    fmt.Println(line)
//	}
//
// Lines can additionally be mirrored to a combined outfile and to any
// LineSink such as the run journal.
package output
