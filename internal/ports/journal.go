package ports

import "github.com/ghalamif/frameprobe/internal/domain"

type JournalEntryID uint64

// Journal persists records ahead of the sink so a crash loses at most the
// records that were never appended.
type Journal interface {
	Append(r *domain.Record) (JournalEntryID, error)
	Iterate(from JournalEntryID, fn func(id JournalEntryID, r *domain.Record) error) error
	Commit(upto JournalEntryID) error
	Stats() JournalStats
	Close() error
}

type JournalStats struct {
	OldestUncommitted JournalEntryID
	LatestAppended    JournalEntryID
	SizeBytes         int64
}

// QueuedRecord is a buffered record together with its journal position.
// ID is zero when no journal is configured.
type QueuedRecord struct {
	ID     JournalEntryID
	Record *domain.Record
}
