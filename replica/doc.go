/*
Package replica owns the replicated objects of one participant in a shared
editing session: the document text, the set of present users, the title and a
counter of edits.

The crdt types are not safe for concurrent use, so a Replica keeps them behind
a single goroutine started with Run. Every operation is a closure handed to
that goroutine through Do; callers block until it has run or their context is
done.

Local edits return the messages to broadcast. Each carries a delta of exactly
the atoms the edit touched, so peers can merge it in any order.
*/
package replica
