// Package repository implements the MySQL-backed Inventory Store and the
// rule, reservation, credential, transfer and payment tables around it.
// Handlers and services match the sentinel values below with errors.Is.
package repository

import "errors"

// ErrNotFound is returned when a lookup by identifier matches no row.
// Services translate it into their own not-found errors.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert hits a unique key, such as a
// payment event id that was already processed.
var ErrDuplicate = errors.New("duplicate")
