package extension

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ocflcore/ocfl/digest"
)

// NameHashIDTuple is the registered name of the 0003 layout.
const NameHashIDTuple = "0003-hash-and-id-n-tuple-storage-layout"

// HashIDTuple implements 0003-hash-and-id-n-tuple-storage-layout: the
// object id is hashed, the hash is split into TupleNum tuples of
// TupleSize hex characters each forming nested directories, and the last
// path segment is the percent-encoded id (truncated and hash-suffixed
// past 100 characters).
type HashIDTuple struct {
	DigestAlgorithm string `json:"digestAlgorithm"`
	TupleSize       int    `json:"tupleSize"`
	TupleNum        int    `json:"numberOfTuples"`
}

var _ Layout = HashIDTuple{}

// NewHashIDTuple returns a HashIDTuple layout with the extension's
// documented defaults (sha256, 3 tuples of 3 hex characters).
func NewHashIDTuple() Layout {
	return HashIDTuple{DigestAlgorithm: digest.SHA256, TupleSize: 3, TupleNum: 3}
}

func (l HashIDTuple) Name() string { return NameHashIDTuple }

func (l HashIDTuple) Resolve(id string) (string, error) {
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
	if l.TupleSize*l.TupleNum > h.Size()*2 {
		return "", fmt.Errorf("product of tupleSize and numberOfTuples exceeds %s length", l.DigestAlgorithm)
	}
	h.Write([]byte(id))
	sum := hex.EncodeToString(h.Sum(nil))
	tuples := make([]string, l.TupleNum+1)
	for i := 0; i < l.TupleNum; i++ {
		tuples[i] = sum[i*l.TupleSize : (i+1)*l.TupleSize]
	}
	encID := percentEncode(id)
	if len(encID) > 100 {
		encID = encID[:100] + "-" + sum
	}
	tuples[l.TupleNum] = encID
	return strings.Join(tuples, "/"), nil
}

func (l HashIDTuple) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		extensionNameKey:  NameHashIDTuple,
		"digestAlgorithm": l.DigestAlgorithm,
		"tupleSize":       l.TupleSize,
		"numberOfTuples":  l.TupleNum,
	})
}

func percentEncode(in string) string {
	const lowerhex = "0123456789abcdef"
	shouldEscape := func(c byte) bool {
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9', c == '-', c == '_':
			return false
		default:
			return true
		}
	}
	var numEscape int
	for i := 0; i < len(in); i++ {
		if shouldEscape(in[i]) {
			numEscape++
		}
	}
	if numEscape == 0 {
		return in
	}
	out := make([]byte, len(in)+2*numEscape)
	j := 0
	for i := 0; i < len(in); i++ {
		if shouldEscape(in[i]) {
			out[j] = '%'
			out[j+1] = lowerhex[in[i]>>4]
			out[j+2] = lowerhex[in[i]&15]
			j += 3
			continue
		}
		out[j] = in[i]
		j++
	}
	return string(out)
}
