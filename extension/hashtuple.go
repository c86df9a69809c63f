package extension

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ocflcore/ocfl/digest"
)

// NameHashTuple is the registered name of the 0004 layout.
const NameHashTuple = "0004-hashed-n-tuple-storage-layout"

// HashTuple implements 0004-hashed-n-tuple-storage-layout: like
// HashIDTuple, but the last path segment is the (possibly shortened) hash
// itself rather than the object id — the id never appears in the path.
type HashTuple struct {
	DigestAlgorithm string `json:"digestAlgorithm"`
	TupleSize       int    `json:"tupleSize"`
	TupleNum        int    `json:"numberOfTuples"`
	Short           bool   `json:"shortObjectRoot"`
}

var _ Layout = HashTuple{}

// NewHashTuple returns a HashTuple layout with the extension's documented
// defaults (sha256, 3 tuples of 3 hex characters, full-length leaf).
func NewHashTuple() Layout {
	return HashTuple{DigestAlgorithm: digest.SHA256, TupleSize: 3, TupleNum: 3}
}

func (l HashTuple) Name() string { return NameHashTuple }

func (l HashTuple) Resolve(id string) (string, error) {
	alg, err := digest.Get(l.DigestAlgorithm)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLayoutID, err)
	}
	if l.TupleSize == 0 && l.TupleNum != 0 {
		return "", errors.New("numberOfTuples must be 0 if tupleSize is 0")
	}
	if l.TupleNum == 0 && l.TupleSize != 0 {
		return "", errors.New("tupleSize must be 0 if numberOfTuples is 0")
	}
	h := alg.New()
	h.Write([]byte(id))
	sum := hex.EncodeToString(h.Sum(nil))
	if l.TupleSize*l.TupleNum > len(sum) {
		return "", fmt.Errorf("product of tupleSize and numberOfTuples exceeds %s length", l.DigestAlgorithm)
	}
	tuples := make([]string, l.TupleNum+1)
	for i := 0; i < l.TupleNum; i++ {
		tuples[i] = sum[i*l.TupleSize : (i+1)*l.TupleSize]
	}
	if l.Short {
		tuples[l.TupleNum] = sum[l.TupleNum*l.TupleSize:]
	} else {
		tuples[l.TupleNum] = sum
	}
	return strings.Join(tuples, "/"), nil
}

func (l HashTuple) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		extensionNameKey:  NameHashTuple,
		"digestAlgorithm": l.DigestAlgorithm,
		"tupleSize":       l.TupleSize,
		"numberOfTuples":  l.TupleNum,
		"shortObjectRoot": l.Short,
	})
}
