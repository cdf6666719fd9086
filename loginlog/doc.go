// Package loginlog records login, refresh and logout outcomes.
//
// [Entry] is the append-only record. [Store] persists entries through gorm with
// ULID primary keys and supports retention via [Store.PurgeBefore]. [JSONWriter],
// [ChannelWriter] and [NopWriter] are lightweight [Writer] implementations.
package loginlog
