package claims

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"
	"lukechampine.com/blake3"

	"perpstake/crypto"
	"perpstake/storage"
)

const (
	seqKeyPrefix      = "claims/seq/"
	entryKeyPrefix    = "claims/entry/"
	defaultPageLimit  = 50
	maxPageLimit      = 500
	recordSeqWidthFmt = "%020d"
)

var (
	// ErrInvalidCursor is returned when a listing cursor cannot be parsed.
	ErrInvalidCursor = errors.New("claims: invalid cursor")
	// ErrChecksumMismatch flags a stored record whose contents no longer
	// match its checksum.
	ErrChecksumMismatch = errors.New("claims: checksum mismatch")
)

// KV is the storage surface used by the history. storage.Database and
// storage.Overlay both satisfy it.
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
}

// Record is one settled reward claim.
type Record struct {
	ID            string         `json:"id"`
	Sequence      uint64         `json:"sequence"`
	Owner         crypto.Address `json:"owner"`
	Caller        crypto.Address `json:"caller"`
	Reward        uint64         `json:"reward"`
	OwnerAmount   uint64         `json:"ownerAmount"`
	CallerAmount  uint64         `json:"callerAmount"`
	ClaimedWeight uint64         `json:"claimedWeight"`
	RoundsClaimed uint32         `json:"roundsClaimed"`
	RoundsPruned  uint32         `json:"roundsPruned"`
	ClaimTime     int64          `json:"claimTime"`
	Timestamp     int64          `json:"timestamp"`
	Checksum      string         `json:"checksum"`
}

type storedRecord struct {
	ID            string
	Sequence      uint64
	Owner         [20]byte
	Caller        [20]byte
	Reward        uint64
	OwnerAmount   uint64
	CallerAmount  uint64
	ClaimedWeight uint64
	RoundsClaimed uint32
	RoundsPruned  uint32
	ClaimTime     uint64
	Timestamp     uint64
	Checksum      string
}

// History appends claim records per owner and lists them page by page.
type History struct {
	kv KV
}

// NewHistory binds a claim history to kv.
func NewHistory(kv KV) *History {
	return &History{kv: kv}
}

func ownerHex(owner crypto.Address) string {
	return hex.EncodeToString(owner[:])
}

func seqKey(owner crypto.Address) []byte {
	return []byte(seqKeyPrefix + ownerHex(owner))
}

func ownerPrefix(owner crypto.Address) []byte {
	return []byte(entryKeyPrefix + ownerHex(owner) + "/")
}

func entryKey(owner crypto.Address, seq uint64) []byte {
	return append(ownerPrefix(owner), fmt.Sprintf(recordSeqWidthFmt, seq)...)
}

// Checksum returns the blake3 digest over the record's settlement fields.
func Checksum(r Record) string {
	buf := make([]byte, 0, 2*crypto.AddressLength+8*7+8+len(r.ID))
	buf = append(buf, r.ID...)
	buf = binary.BigEndian.AppendUint64(buf, r.Sequence)
	buf = append(buf, r.Owner[:]...)
	buf = append(buf, r.Caller[:]...)
	buf = binary.BigEndian.AppendUint64(buf, r.Reward)
	buf = binary.BigEndian.AppendUint64(buf, r.OwnerAmount)
	buf = binary.BigEndian.AppendUint64(buf, r.CallerAmount)
	buf = binary.BigEndian.AppendUint64(buf, r.ClaimedWeight)
	buf = binary.BigEndian.AppendUint32(buf, r.RoundsClaimed)
	buf = binary.BigEndian.AppendUint32(buf, r.RoundsPruned)
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.ClaimTime))
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.Timestamp))
	sum := blake3.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

func (h *History) nextSequence(owner crypto.Address) (uint64, error) {
	raw, err := h.kv.Get(seqKey(owner))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	if err := rlp.DecodeBytes(raw, &seq); err != nil {
		return 0, fmt.Errorf("claims: decode sequence: %w", err)
	}
	return seq, nil
}

// Append assigns an ID, sequence and checksum to r and persists it. The
// stored record is returned.
func (h *History) Append(r Record) (Record, error) {
	if r.ClaimTime < 0 || r.Timestamp < 0 {
		return Record{}, errors.New("claims: negative timestamp")
	}
	seq, err := h.nextSequence(r.Owner)
	if err != nil {
		return Record{}, err
	}
	r.Sequence = seq
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Checksum = Checksum(r)
	encoded, err := rlp.EncodeToBytes(storedRecord{
		ID:            r.ID,
		Sequence:      r.Sequence,
		Owner:         r.Owner,
		Caller:        r.Caller,
		Reward:        r.Reward,
		OwnerAmount:   r.OwnerAmount,
		CallerAmount:  r.CallerAmount,
		ClaimedWeight: r.ClaimedWeight,
		RoundsClaimed: r.RoundsClaimed,
		RoundsPruned:  r.RoundsPruned,
		ClaimTime:     uint64(r.ClaimTime),
		Timestamp:     uint64(r.Timestamp),
		Checksum:      r.Checksum,
	})
	if err != nil {
		return Record{}, err
	}
	if err := h.kv.Put(entryKey(r.Owner, seq), encoded); err != nil {
		return Record{}, err
	}
	next, err := rlp.EncodeToBytes(seq + 1)
	if err != nil {
		return Record{}, err
	}
	if err := h.kv.Put(seqKey(r.Owner), next); err != nil {
		return Record{}, err
	}
	return r, nil
}

func decodeRecord(raw []byte) (Record, error) {
	var stored storedRecord
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return Record{}, fmt.Errorf("claims: decode record: %w", err)
	}
	r := Record{
		ID:            stored.ID,
		Sequence:      stored.Sequence,
		Owner:         stored.Owner,
		Caller:        stored.Caller,
		Reward:        stored.Reward,
		OwnerAmount:   stored.OwnerAmount,
		CallerAmount:  stored.CallerAmount,
		ClaimedWeight: stored.ClaimedWeight,
		RoundsClaimed: stored.RoundsClaimed,
		RoundsPruned:  stored.RoundsPruned,
		ClaimTime:     int64(stored.ClaimTime),
		Timestamp:     int64(stored.Timestamp),
		Checksum:      stored.Checksum,
	}
	if Checksum(r) != r.Checksum {
		return Record{}, fmt.Errorf("%w: record %s", ErrChecksumMismatch, r.ID)
	}
	return r, nil
}

// List returns up to limit records for owner starting at cursor, oldest
// first, plus the cursor of the following page ("" when exhausted).
func (h *History) List(owner crypto.Address, cursor string, limit int) ([]Record, string, error) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	var start uint64
	if cursor != "" {
		parsed, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
		start = parsed
	}
	startKey := string(entryKey(owner, start))
	records := make([]Record, 0, limit)
	next := ""
	var iterErr error
	err := h.kv.Iterate(ownerPrefix(owner), func(key, value []byte) bool {
		if string(key) < startKey {
			return true
		}
		if len(records) == limit {
			next = strconv.FormatUint(records[len(records)-1].Sequence+1, 10)
			return false
		}
		r, err := decodeRecord(value)
		if err != nil {
			iterErr = err
			return false
		}
		records = append(records, r)
		return true
	})
	if err != nil {
		return nil, "", err
	}
	if iterErr != nil {
		return nil, "", iterErr
	}
	return records, next, nil
}
