package recdb

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a record, or a store/link/field referenced
	// by name, does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConstraintViolation is returned when an insert would break a unique
	// field or leave a child record without its parent.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrTxClosed is returned when a transaction handle is used after its
	// transaction has ended.
	ErrTxClosed = errors.New("transaction closed")

	// ErrReadOnly is returned when a read transaction attempts a mutation.
	ErrReadOnly = errors.New("read-only transaction")

	// ErrClosed is returned for transactions started after DB.Close.
	ErrClosed = errors.New("database closed")

	// ErrInvalidRecord is returned when a record or filter value does not
	// match the declared field types.
	ErrInvalidRecord = errors.New("invalid record")
)

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

type StoreError struct {
	Store string
	Index string
	Key   []byte
	Msg   string
	Err   error
}

func storeErrf(st *Store, index string, key []byte, err error, format string, args ...any) error {
	var name string
	if st != nil {
		name = st.name
	}
	return &StoreError{name, index, key, fmt.Sprintf(format, args...), err}
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Store)
	if e.Index != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Index)
	}
	if e.Key != nil {
		buf.WriteByte('/')
		buf.WriteString(hexstr(e.Key))
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}
