// Package stores provides the SQL-backed authcore.UserProvider used by the
// authcore server binary.
//
// # Design
//
// UserStore keeps one row per account in a gorm-managed users table with a
// unique index on the identifier. CreateUser reports a taken identifier as
// authcore.ErrProviderDuplicateIdentifier whether it is found up front or
// lost to a concurrent insert; unknown users are authcore.ErrUserNotFound.
//
// # What this package must NOT do
//
//   - Hash or verify secrets. It stores the bcrypt hash it is given.
//   - Make authentication decisions such as lockout or status checks.
package stores
