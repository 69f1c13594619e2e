package ports

import "github.com/ghalamif/frameprobe/internal/domain"

type Sink interface {
	WriteBatch(records []*domain.Record) error
	Name() string
	Close() error
}
