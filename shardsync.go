package shardsync

import (
	"database/sql"
	"fmt"
	"net"
	"strconv"

	"github.com/gibson042/canonicaljson-go"
	"github.com/pkg/errors"
)

type (
	// Row is one row of the remote shard's attachment query.
	Row struct {
		Hash    sql.NullString
		FieldID sql.NullInt64
		Value   sql.NullString
	}

	// FieldRecord is the payload stored for a content hash.
	// Either member may be nil when the attachment's item has no field data.
	FieldRecord struct {
		FieldID *int64      `json:"fieldID"`
		Value   interface{} `json:"value"`
	}

	// Entry is a stored (hash, serialized field record) pair.
	Entry struct {
		Hash  string
		Field string
	}

	// Coords tells how to reach a shard.
	Coords struct {
		Host     string
		Port     int
		DB       string
		User     string
		Password string
	}
)

// Record produces the FieldRecord for r.
func (r Row) Record() FieldRecord {
	var rec FieldRecord
	if r.FieldID.Valid {
		id := r.FieldID.Int64
		rec.FieldID = &id
	}
	if r.Value.Valid {
		rec.Value = r.Value.String
	}
	return rec
}

// Encode serializes a field record as canonical JSON.
// Equal records always produce identical bytes,
// which is what makes (hash, encoding) usable as a uniqueness key.
func Encode(rec FieldRecord) ([]byte, error) {
	b, err := canonicaljson.Marshal(rec)
	return b, errors.Wrap(err, "encoding field record")
}

// NewEntry encodes rec and pairs it with hash.
func NewEntry(hash string, rec FieldRecord) (Entry, error) {
	b, err := Encode(rec)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Hash: hash, Field: string(b)}, nil
}

// Addr is the host:port form of c.
func (c Coords) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Coords) String() string {
	return fmt.Sprintf("%s/%s", c.Addr(), c.DB)
}
