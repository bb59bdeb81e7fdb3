package repository

import "errors"

var ErrNotFound = errors.New("not found")

type Order string

const (
	OrderASC  Order = "asc"
	OrderDESC Order = "desc"
)
