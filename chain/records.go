package chain

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Kind discriminates record types held by a Store.
type Kind uint8

const (
	KindBlog Kind = iota + 1
	KindPost
	KindProfile
)

func (k Kind) String() string {
	switch k {
	case KindBlog:
		return "blog"
	case KindPost:
		return "post"
	case KindProfile:
		return "profile"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Record is a value that can be persisted at an Address.
type Record interface {
	Kind() Kind
}

// Blog is the chain head: one per blog instance.
type Blog struct {
	_ struct{} `cbor:",toarray"`

	// Administrator may close the blog. Immutable after genesis.
	Administrator Address
	// Head is the most recently created live post, or None.
	Head Address
}

func (*Blog) Kind() Kind { return KindBlog }

// Post is one node of the backward-linked chain.
type Post struct {
	_ struct{} `cbor:",toarray"`

	Title       string
	Content     string
	Owner       Address
	Profile     Address
	Blog        Address
	CreatedAt   int64
	Predecessor Address
}

func (*Post) Kind() Kind { return KindPost }

// Created returns the creation timestamp.
func (p *Post) Created() time.Time {
	return time.Unix(p.CreatedAt, 0).UTC()
}

// Profile is an author's display record.
type Profile struct {
	_ struct{} `cbor:",toarray"`

	Name      string
	Avatar    string
	Authority Address
}

func (*Profile) Kind() Kind { return KindProfile }

// Limits bounds user-supplied text fields. The storage space reserved for each
// record kind is derived from them.
type Limits struct {
	MaxTitle   int `toml:"max_title"`
	MaxContent int `toml:"max_content"`
	MaxName    int `toml:"max_name"`
	MaxAvatar  int `toml:"max_avatar"`
}

// DefaultLimits returns the stock field limits.
func DefaultLimits() Limits {
	return Limits{
		MaxTitle:   50,
		MaxContent: 500,
		MaxName:    40,
		MaxAvatar:  120,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxTitle <= 0 {
		l.MaxTitle = d.MaxTitle
	}
	if l.MaxContent <= 0 {
		l.MaxContent = d.MaxContent
	}
	if l.MaxName <= 0 {
		l.MaxName = d.MaxName
	}
	if l.MaxAvatar <= 0 {
		l.MaxAvatar = d.MaxAvatar
	}
	return l
}

// Space layouts: an 8 byte header, a 4 byte length prefix per string and
// AddressSize bytes per address.
const (
	headerSpace = 8
	prefixSpace = 4
)

// BlogSpace is the storage reserved for a Blog record.
func (l Limits) BlogSpace() int {
	return headerSpace + 2*AddressSize
}

// PostSpace is the storage reserved for a Post record.
func (l Limits) PostSpace() int {
	return headerSpace + prefixSpace + l.MaxTitle + prefixSpace + l.MaxContent + 4*AddressSize + 8
}

// ProfileSpace is the storage reserved for a Profile record.
func (l Limits) ProfileSpace() int {
	return headerSpace + prefixSpace + l.MaxName + prefixSpace + l.MaxAvatar + AddressSize
}

// Space returns the reserved storage for kind.
func (l Limits) Space(kind Kind) int {
	switch kind {
	case KindBlog:
		return l.BlogSpace()
	case KindPost:
		return l.PostSpace()
	case KindProfile:
		return l.ProfileSpace()
	}
	return 0
}

// Encode serializes a record for storage.
func Encode(r Record) ([]byte, error) {
	b, err := cbor.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", r.Kind(), err)
	}
	return b, nil
}

// Decode deserializes data into r.
func Decode(data []byte, r Record) error {
	if err := cbor.Unmarshal(data, r); err != nil {
		return fmt.Errorf("decode %s: %w", r.Kind(), err)
	}
	return nil
}

// Load reads the record at addr into r, checking its kind.
func Load(tx Tx, addr Address, r Record) error {
	if addr.IsNone() {
		return &ConsistencyError{Reason: fmt.Sprintf("%s address is none", r.Kind()), Err: ErrNotFound}
	}
	kind, data, err := tx.Read(addr)
	if err != nil {
		return asStorage("read "+r.Kind().String(), addr, err)
	}
	if kind != r.Kind() {
		return &ConsistencyError{Reason: fmt.Sprintf("%s has %s, want %s", addr, kind, r.Kind()), Err: ErrKindMismatch}
	}
	if err := Decode(data, r); err != nil {
		return &StorageError{Op: "decode", Addr: addr, Err: err}
	}
	return nil
}

// Save writes r to addr.
func Save(tx Tx, addr Address, r Record) error {
	data, err := Encode(r)
	if err != nil {
		return &StorageError{Op: "encode", Addr: addr, Err: err}
	}
	if err := tx.Write(addr, r.Kind(), data); err != nil {
		return asStorage("write "+r.Kind().String(), addr, err)
	}
	return nil
}
