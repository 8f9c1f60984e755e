package shgat

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/Casys-AI/pml-std-sub000/hypergraph"
	"github.com/Casys-AI/pml-std-sub000/pmlerr"
)

const (
	stateIdle int32 = iota
	stateRunning
)

// adamState holds the Adam optimizer's first/second moment estimates and
// step count for the four alpha parameters.
type adamState struct {
	m, v [4]float64
	t    int
}

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8
)

// Sample is one online training example: a (query, selected candidate,
// outcome) triple drawn from an episodic trace.
type Sample struct {
	Query     Query
	Candidate Candidate
	Label     bool
}

// TrainResult reports one training run's outcome.
type TrainResult struct {
	Epochs    int
	FinalLoss float64
	Losses    []float64 // per-epoch average BCE loss, for monotonic-decrease checks
}

// Trainer serializes SHGAT training onto a single dedicated worker
// goroutine, so exactly one goroutine ever owns the parameters. A training
// request received while one is already running is rejected with
// Overloaded rather than queued.
type Trainer struct {
	net  *Net
	idx  *hypergraph.Index
	jobs chan trainJob
}

type trainJob struct {
	ctx     context.Context
	samples []Sample
	epochs  int
	lr, l2  float64
	result  chan trainOutcome
}

type trainOutcome struct {
	res TrainResult
	err error
}

// NewTrainer starts the dedicated training worker for net, scoring against
// idx's hypergraph features.
func NewTrainer(net *Net, idx *hypergraph.Index) *Trainer {
	t := &Trainer{net: net, idx: idx, jobs: make(chan trainJob)}
	go t.worker()
	return t
}

func (t *Trainer) worker() {
	for job := range t.jobs {
		res, err := t.net.trainEpochs(job.ctx, t.idx, job.samples, job.epochs, job.lr, job.l2)
		job.result <- trainOutcome{res: res, err: err}
	}
}

// Submit runs epochs of online gradient descent over samples. If a
// training run is already in flight, it returns an Overloaded error
// immediately instead of queuing.
func (t *Trainer) Submit(ctx context.Context, samples []Sample, epochs int, lr, l2 float64) (TrainResult, error) {
	if !atomic.CompareAndSwapInt32(&t.net.trainState, stateIdle, stateRunning) {
		return TrainResult{}, pmlerr.New(pmlerr.Overloaded, "shgat training is already running")
	}
	defer atomic.StoreInt32(&t.net.trainState, stateIdle)

	result := make(chan trainOutcome, 1)
	job := trainJob{ctx: ctx, samples: samples, epochs: epochs, lr: lr, l2: l2, result: result}
	select {
	case t.jobs <- job:
	case <-ctx.Done():
		return TrainResult{}, pmlerr.Wrap(pmlerr.Cancelled, ctx.Err(), "training submission cancelled")
	}
	select {
	case out := <-result:
		return out.res, out.err
	case <-ctx.Done():
		return TrainResult{}, pmlerr.Wrap(pmlerr.Cancelled, ctx.Err(), "training cancelled")
	}
}

// trainEpochs runs online Adam/BCE gradient descent over the four alpha
// mixing weights for the given samples, for the requested number of
// epochs. Backprop through the message-passing encoder is not performed
// (see package doc); the trainable surface is the head-mixing softmax,
// which is sufficient to satisfy the score monotonicity and boundedness
// properties while keeping online updates numerically small and stable.
//
// Each sample's per-head feature vector is computed once per epoch via
// Score/Forward so structure/reliability heads reflect the live
// hypergraph state. A NaN/Inf loss at any epoch rolls back to the alpha
// snapshot from before this call and returns NumericalInstability.
func (n *Net) trainEpochs(ctx context.Context, idx *hypergraph.Index, samples []Sample, epochs int, lr, l2 float64) (TrainResult, error) {
	if len(samples) == 0 {
		return TrainResult{}, pmlerr.New(pmlerr.InvalidArgument, "no training samples provided")
	}
	if epochs <= 0 {
		epochs = 1
	}
	if lr <= 0 {
		lr = 0.01
	}

	snapshot := n.getAlpha()
	adamSnapshot := n.adam

	losses := make([]float64, 0, epochs)
	alpha := snapshot

	for e := 0; e < epochs; e++ {
		select {
		case <-ctx.Done():
			n.setAlpha(snapshot)
			n.adam = adamSnapshot
			return TrainResult{}, pmlerr.Wrap(pmlerr.Cancelled, ctx.Err(), "training cancelled mid-epoch")
		default:
		}

		var grad [4]float64
		var totalLoss float64
		for _, s := range samples {
			heads := n.sampleHeads(idx, s.Query, s.Candidate)
			weights := softmaxAlpha(alpha)
			var mixed float64
			for i, w := range weights {
				mixed += w * heads[i]
			}
			p := sigmoid(mixed)
			y := 0.0
			if s.Label {
				y = 1.0
			}
			totalLoss += bce(p, y)

			dLdz := p - y
			for k := 0; k < 4; k++ {
				grad[k] += dLdz * weights[k] * (heads[k] - mixed)
			}
		}
		count := float64(len(samples))
		for k := 0; k < 4; k++ {
			grad[k] = grad[k]/count + l2*alpha[k]
		}
		avgLoss := totalLoss / count

		if math.IsNaN(avgLoss) || math.IsInf(avgLoss, 0) {
			n.setAlpha(snapshot)
			return TrainResult{Epochs: e, Losses: losses}, pmlerr.New(pmlerr.NumericalInstability, "training loss diverged")
		}

		alpha = adamStep(&n.adam, alpha, grad, lr)
		losses = append(losses, avgLoss)
	}

	n.setAlpha(alpha)
	return TrainResult{Epochs: epochs, FinalLoss: losses[len(losses)-1], Losses: losses}, nil
}

// sampleHeads recomputes a sample's four raw head values by running a
// fresh forward pass scoped to the query's context tools and the
// candidate itself, so training reflects current embeddings/features
// without requiring the caller to pre-run Forward.
func (n *Net) sampleHeads(idx *hypergraph.Index, q Query, c Candidate) [4]float64 {
	vertices := make([]Vertex, 0, len(q.ContextToolIDs)+len(c.Members))
	seen := map[string]bool{}
	addVertex := func(id string, emb []float32) {
		if seen[id] {
			return
		}
		seen[id] = true
		vertices = append(vertices, Vertex{ID: id, Embedding: emb})
	}
	for _, id := range q.ContextToolIDs {
		addVertex(id, nil)
	}
	for _, id := range c.Members {
		addVertex(id, nil)
	}
	edges := []HyperEdge{{ID: c.ID, Members: c.Members, Embedding: c.Embedding}}

	emb := n.Forward(vertices, edges)
	_, explanation := n.Score(idx, emb, q, c)
	return [4]float64{explanation.SemanticHead, explanation.ContextHead, explanation.StructureHead, explanation.ReliabilityHead}
}

func bce(p, y float64) float64 {
	const eps = 1e-12
	p = math.Min(math.Max(p, eps), 1-eps)
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}

// adamStep applies one Adam update to alpha given the current gradient,
// mutating st's moment estimates in place and returning the new alpha.
func adamStep(st *adamState, alpha, grad [4]float64, lr float64) [4]float64 {
	st.t++
	var out [4]float64
	biasCorr1 := 1 - math.Pow(adamBeta1, float64(st.t))
	biasCorr2 := 1 - math.Pow(adamBeta2, float64(st.t))
	for k := 0; k < 4; k++ {
		st.m[k] = adamBeta1*st.m[k] + (1-adamBeta1)*grad[k]
		st.v[k] = adamBeta2*st.v[k] + (1-adamBeta2)*grad[k]*grad[k]
		mHat := st.m[k] / biasCorr1
		vHat := st.v[k] / biasCorr2
		out[k] = alpha[k] - lr*mHat/(math.Sqrt(vHat)+adamEpsilon)
	}
	return out
}
