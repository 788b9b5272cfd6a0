package graph

import (
	"context"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// wireWFST is the CBOR envelope for a flattened WFST: the same six CSR
// arrays as WFST itself, kept as a separate type so the on-disk format
// can evolve independently of the in-memory struct's field order/tags.
type wireWFST struct {
	Start         int
	EOffsets      []int32
	NEOffsets     []int32
	ArcILabels    []int32
	ArcOLabels    []int32
	ArcWeights    []float32
	ArcNextStates []int32
	Final         []float32
}

// FileLoader implements GraphLoader over a CBOR-encoded WFST file, the
// concrete graph-loading seam spec.md §1 leaves as an external
// collaborator's responsibility.
type FileLoader struct {
	Path string
}

// NewFileLoader returns a GraphLoader that reads path once, on Load.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{Path: path}
}

func (l *FileLoader) Load(ctx context.Context) (*WFST, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("graph: read wfst file %q: %w", l.Path, err)
	}

	var w wireWFST
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("graph: decode wfst file %q: %w", l.Path, err)
	}

	return &WFST{
		Start:         w.Start,
		EOffsets:      w.EOffsets,
		NEOffsets:     w.NEOffsets,
		ArcILabels:    w.ArcILabels,
		ArcOLabels:    w.ArcOLabels,
		ArcWeights:    w.ArcWeights,
		ArcNextStates: w.ArcNextStates,
		Final:         w.Final,
	}, nil
}
