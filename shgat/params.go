package shgat

import (
	"bytes"
	"encoding/gob"

	"gonum.org/v1/gonum/mat"

	"github.com/Casys-AI/pml-std-sub000/pmlerr"
)

// serializedHead/-Layer/-Net mirror Net's internal structure with gob-safe
// plain slices standing in for *mat.Dense, whose raw form gob cannot encode
// directly.
type serializedHead struct {
	WvRows, WvCols int
	WvData         []float64
	WeRows, WeCols int
	WeData         []float64
	Ave, Aev       []float64
}

type serializedLayer struct {
	Heads          []serializedHead
	WoRows, WoCols int
	WoData         []float64
}

type serializedNet struct {
	Cfg    Config
	Layers []serializedLayer
	Alpha  [4]float64
	AdamM  [4]float64
	AdamV  [4]float64
	AdamT  int
}

// Export serializes the Net's full parameter set (encoder weights, head
// mixer, and optimizer moments) to a byte blob suitable for
// store.Store.SaveParams. Round-tripping through Export/Import reproduces
// identical scores (spec.md R1).
func (n *Net) Export() ([]byte, error) {
	n.alphaMu.RLock()
	alpha := n.alpha
	n.alphaMu.RUnlock()

	out := serializedNet{
		Cfg:   n.cfg,
		Alpha: alpha,
		AdamM: n.adam.m,
		AdamV: n.adam.v,
		AdamT: n.adam.t,
	}
	out.Layers = make([]serializedLayer, len(n.layers))
	for li, layer := range n.layers {
		sl := serializedLayer{Heads: make([]serializedHead, len(layer.heads))}
		for hi, h := range layer.heads {
			wvR, wvC := h.Wv.Dims()
			weR, weC := h.We.Dims()
			sl.Heads[hi] = serializedHead{
				WvRows: wvR, WvCols: wvC, WvData: append([]float64(nil), h.Wv.RawMatrix().Data...),
				WeRows: weR, WeCols: weC, WeData: append([]float64(nil), h.We.RawMatrix().Data...),
				Ave: append([]float64(nil), h.Ave...),
				Aev: append([]float64(nil), h.Aev...),
			}
		}
		woR, woC := layer.Wo.Dims()
		sl.WoRows, sl.WoCols = woR, woC
		sl.WoData = append([]float64(nil), layer.Wo.RawMatrix().Data...)
		out.Layers[li] = sl
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(out); err != nil {
		return nil, pmlerr.Wrap(pmlerr.Internal, err, "encode shgat params")
	}
	return buf.Bytes(), nil
}

// Import reconstructs a Net from a blob produced by Export.
func Import(data []byte) (*Net, error) {
	var in serializedNet
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&in); err != nil {
		return nil, pmlerr.Wrap(pmlerr.Internal, err, "decode shgat params")
	}
	n := &Net{cfg: in.Cfg, alpha: in.Alpha}
	n.adam = adamState{m: in.AdamM, v: in.AdamV, t: in.AdamT}
	n.layers = make([]layerParams, len(in.Layers))
	for li, sl := range in.Layers {
		heads := make([]headParams, len(sl.Heads))
		for hi, sh := range sl.Heads {
			heads[hi] = headParams{
				Wv:  mat.NewDense(sh.WvRows, sh.WvCols, append([]float64(nil), sh.WvData...)),
				We:  mat.NewDense(sh.WeRows, sh.WeCols, append([]float64(nil), sh.WeData...)),
				Ave: append([]float64(nil), sh.Ave...),
				Aev: append([]float64(nil), sh.Aev...),
			}
		}
		n.layers[li] = layerParams{
			heads: heads,
			Wo:    mat.NewDense(sl.WoRows, sl.WoCols, append([]float64(nil), sl.WoData...)),
		}
	}
	return n, nil
}
