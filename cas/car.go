package cas

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/ipfs/go-cid"
	car "github.com/ipld/go-car"
	carutil "github.com/ipld/go-car/util"
	carv2 "github.com/ipld/go-car/v2"
)

// Links returns every CID referenced from a DAG-CBOR block. Blocks in any
// other codec are treated as leaves.
func Links(c cid.Cid, data []byte) ([]cid.Cid, error) {
	if c.Prefix().Codec != CodecCBOR {
		return nil, nil
	}
	rec, err := DecodeCBOR(data)
	if err != nil {
		return nil, err
	}
	var out []cid.Cid
	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case cid.Cid:
			out = append(out, x)
		case map[string]any:
			// sorted so exports of the same root are byte for byte identical
			for _, k := range slices.Sorted(maps.Keys(x)) {
				walk(x[k])
			}
		case []any:
			for _, e := range x {
				walk(e)
			}
		}
	}
	walk(rec)
	return out, nil
}

// WriteCAR writes the DAG reachable from root as a CARv1 stream. Missing
// blocks are an error; shared subtrees are written once.
func WriteCAR(ctx context.Context, w io.Writer, s *Store, root cid.Cid) (int, error) {
	if err := car.WriteHeader(&car.CarHeader{
		Roots:   []cid.Cid{root},
		Version: 1,
	}, w); err != nil {
		return 0, err
	}

	seen := make(map[cid.Cid]bool)
	queue := []cid.Cid{root}
	count := 0
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		c := queue[0]
		queue = queue[1:]
		if seen[c] {
			continue
		}
		seen[c] = true

		data, err := s.Get(ctx, c)
		if err != nil {
			return count, err
		}
		if err := carutil.LdWrite(w, c.Bytes(), data); err != nil {
			return count, err
		}
		count++

		links, err := Links(c, data)
		if err != nil {
			return count, fmt.Errorf("reading links of %s: %w", c, err)
		}
		queue = append(queue, links...)
	}
	return count, nil
}

// ReadCAR copies every block of a CAR stream into the store and returns the
// first root.
func ReadCAR(ctx context.Context, r io.Reader, s *Store) (cid.Cid, error) {
	br, err := carv2.NewBlockReader(r)
	if err != nil {
		return cid.Undef, err
	}

	for {
		blk, err := br.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return cid.Undef, err
		}

		if err := s.PutBlock(ctx, blk.Cid(), blk.RawData()); err != nil {
			return cid.Undef, err
		}
	}

	if len(br.Roots) < 1 {
		return cid.Undef, fmt.Errorf("CAR file missing root CID")
	}
	return br.Roots[0], nil
}
