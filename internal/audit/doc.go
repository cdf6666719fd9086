// Package audit delivers login log entries asynchronously.
//
// [Dispatcher] owns buffering and delivery to a [loginlog.Writer]. It does not
// decide which entries to emit; the engine does.
package audit
