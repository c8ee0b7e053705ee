// Package training builds and fits the small feedforward and recurrent
// networks C2 uses per spec.md §4.2. Like the teacher's own
// NeuralNetworkTrainer ("Full implementation would use gorgonia or similar"),
// this is intentionally simplified: no autodiff graph, no GPU kernels. The
// forward pass and the backprop delta propagation are genuine
// gonum.org/v1/gonum/mat matrix-vector multiplies (DenseLayer.preActivation,
// DenseLayer.propagate); the per-weight gradient update itself is a direct
// outer-product loop rather than a third mat.Dense multiply, since it
// mutates Weights in place column-by-column alongside the SGD step.
package training

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Activation is a layer's nonlinearity.
type Activation string

const (
	ActivationReLU    Activation = "relu"
	ActivationSigmoid Activation = "sigmoid"
	ActivationSoftmax Activation = "softmax"
	ActivationLinear  Activation = "linear"
)

// DenseLayer is a fully connected layer with weights [inputs][outputs] and a
// bias vector of length outputs.
type DenseLayer struct {
	Weights    [][]float64
	Bias       []float64
	Activation Activation
	DropoutP   float64 // applied to this layer's output during training only
}

func newDenseLayer(rng *rand.Rand, inputs, outputs int, activation Activation, dropout float64) *DenseLayer {
	scale := math.Sqrt(2.0 / float64(inputs))
	w := make([][]float64, inputs)
	for i := range w {
		w[i] = make([]float64, outputs)
		for j := range w[i] {
			w[i][j] = rng.NormFloat64() * scale
		}
	}
	b := make([]float64, outputs)
	return &DenseLayer{Weights: w, Bias: b, Activation: activation, DropoutP: dropout}
}

func (l *DenseLayer) outputs() int { return len(l.Bias) }

// preActivation computes Weights^T*input + Bias as a gonum matrix-vector
// multiply: Weights is stored [inputs][outputs], so flattened row-major it
// is already the (inputs x outputs) matrix mat.Dense expects for W*x to
// yield the (outputs)-length pre-activation vector.
func (l *DenseLayer) preActivation(input []float64) []float64 {
	inputs := len(l.Weights)
	outputs := l.outputs()

	flat := make([]float64, 0, inputs*outputs)
	for i := 0; i < inputs; i++ {
		flat = append(flat, l.Weights[i]...)
	}
	w := mat.NewDense(inputs, outputs, flat)

	var pre mat.VecDense
	pre.MulVec(w.T(), mat.NewVecDense(inputs, input))

	out := make([]float64, outputs)
	for j := range out {
		out[j] = pre.AtVec(j) + l.Bias[j]
	}
	return out
}

// forward computes the pre-activation and post-activation outputs, applying
// an inverted-dropout mask when training and dropout is non-zero.
func (l *DenseLayer) forward(input []float64, training bool, rng *rand.Rand) (preAct, postAct []float64, mask []float64) {
	out := l.outputs()
	preAct = l.preActivation(input)

	switch l.Activation {
	case ActivationReLU:
		postAct = make([]float64, out)
		for j, v := range preAct {
			if v > 0 {
				postAct[j] = v
			}
		}
	case ActivationSigmoid:
		postAct = make([]float64, out)
		for j, v := range preAct {
			postAct[j] = sigmoid(v)
		}
	case ActivationSoftmax:
		postAct = softmax(preAct)
	default: // linear
		postAct = append([]float64(nil), preAct...)
	}

	if training && l.DropoutP > 0 {
		mask = make([]float64, out)
		keep := 1.0 - l.DropoutP
		for j := range mask {
			if rng.Float64() < keep {
				mask[j] = 1.0 / keep
			}
		}
		for j := range postAct {
			postAct[j] *= mask[j]
		}
	}
	return preAct, postAct, mask
}

func sigmoid(x float64) float64 { return 1.0 / (1.0 + math.Exp(-x)) }

func softmax(x []float64) []float64 {
	maxV := x[0]
	for _, v := range x {
		if v > maxV {
			maxV = v
		}
	}
	out := make([]float64, len(x))
	sum := 0.0
	for i, v := range x {
		out[i] = math.Exp(v - maxV)
		sum += out[i]
	}
	if sum == 0 {
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Network is an ordered stack of dense layers, forward-propagated input to
// output with intermediate activations kept for backprop during training.
type Network struct {
	Layers []*DenseLayer
	rng    *rand.Rand
}

// Forward runs inference only (no dropout).
func (n *Network) Forward(input []float64) []float64 {
	x := input
	for _, layer := range n.Layers {
		_, post, _ := layer.forward(x, false, nil)
		x = post
	}
	return x
}

// EnsureRNG lazily restores the dropout RNG after a Network is deserialized
// from storage (json.Unmarshal leaves unexported fields zero). C6 calls this
// before resuming training on a loaded artifact.
func (n *Network) EnsureRNG(seed int64) {
	if n.rng == nil {
		n.rng = rand.New(rand.NewSource(seed))
	}
}

// trainStep runs one forward+backward pass for a single example and applies
// the gradient update in place, returning the per-example loss.
func (n *Network) trainStep(input, target []float64, lr float64, crossEntropy bool) float64 {
	activations := make([][]float64, len(n.Layers)+1)
	preActs := make([][]float64, len(n.Layers))
	masks := make([][]float64, len(n.Layers))
	activations[0] = input

	x := input
	for i, layer := range n.Layers {
		pre, post, mask := layer.forward(x, true, n.rng)
		preActs[i] = pre
		masks[i] = mask
		activations[i+1] = post
		x = post
	}

	output := activations[len(activations)-1]
	loss := 0.0
	delta := make([]float64, len(output))
	if crossEntropy {
		for i := range output {
			p := math.Max(output[i], 1e-12)
			loss -= target[i] * math.Log(p)
			delta[i] = output[i] - target[i] // softmax + cross-entropy combined gradient
		}
	} else {
		for i := range output {
			diff := output[i] - target[i]
			loss += diff * diff
			delta[i] = 2 * diff / float64(len(output))
		}
		loss /= float64(len(output))
	}

	// Backpropagate through dense layers in reverse order.
	for i := len(n.Layers) - 1; i >= 0; i-- {
		layer := n.Layers[i]
		pre := preActs[i]
		prevActivation := activations[i]

		// Apply activation derivative, except softmax (folded into delta above)
		// and linear output layers (derivative is 1).
		switch layer.Activation {
		case ActivationReLU:
			for j := range delta {
				if pre[j] <= 0 {
					delta[j] = 0
				}
			}
		case ActivationSigmoid:
			for j := range delta {
				s := sigmoid(pre[j])
				delta[j] *= s * (1 - s)
			}
		}
		if masks[i] != nil {
			for j := range delta {
				delta[j] *= masks[i][j]
			}
		}

		nextDelta := layer.propagate(delta)
		for in := range layer.Weights {
			for out := range delta {
				layer.Weights[in][out] -= lr * delta[out] * prevActivation[in]
			}
		}
		for out := range layer.Bias {
			layer.Bias[out] -= lr * delta[out]
		}
		delta = nextDelta
	}

	return loss
}

// propagate computes Weights*delta as a gonum matrix-vector multiply,
// carrying the output gradient back to this layer's input dimension for the
// next layer back in the chain.
func (l *DenseLayer) propagate(delta []float64) []float64 {
	inputs := len(l.Weights)
	outputs := l.outputs()

	flat := make([]float64, 0, inputs*outputs)
	for i := 0; i < inputs; i++ {
		flat = append(flat, l.Weights[i]...)
	}
	w := mat.NewDense(inputs, outputs, flat)

	var next mat.VecDense
	next.MulVec(w, mat.NewVecDense(outputs, delta))

	out := make([]float64, inputs)
	for i := range out {
		out[i] = next.AtVec(i)
	}
	return out
}

// BuildDenseNN constructs the dense_nn architecture from spec.md §4.2.
// Classification: dense(64,relu) -> dropout(0.2) -> dense(32,relu) -> dropout(0.2) -> dense(numClasses,softmax).
// Regression: dense(64,relu) -> dropout(0.2) -> dense(32,relu) -> dense(1,linear).
func BuildDenseNN(seed int64, inputDim, numClasses int, classification bool) *Network {
	rng := rand.New(rand.NewSource(seed))
	outputDim := 1
	outputActivation := ActivationLinear
	if classification {
		outputDim = numClasses
		outputActivation = ActivationSoftmax
	}
	layers := []*DenseLayer{
		newDenseLayer(rng, inputDim, 64, ActivationReLU, 0.2),
		newDenseLayer(rng, 64, 32, ActivationReLU, 0.0),
		newDenseLayer(rng, 32, outputDim, outputActivation, 0.0),
	}
	if classification {
		layers[1].DropoutP = 0.2
	}
	return &Network{Layers: layers, rng: rng}
}

// BuildGeneric constructs the generic architecture from spec.md §4.2:
// dense(128,relu) -> dropout(0.3) -> dense(64,relu) -> dropout(0.3) -> dense(32,relu) -> dense(1,sigmoid).
func BuildGeneric(seed int64, inputDim int) *Network {
	rng := rand.New(rand.NewSource(seed))
	layers := []*DenseLayer{
		newDenseLayer(rng, inputDim, 128, ActivationReLU, 0.3),
		newDenseLayer(rng, 128, 64, ActivationReLU, 0.3),
		newDenseLayer(rng, 64, 32, ActivationReLU, 0.0),
		newDenseLayer(rng, 32, 1, ActivationSigmoid, 0.0),
	}
	return &Network{Layers: layers, rng: rng}
}

// BuildLSTM approximates spec.md §4.2's lstm+nlp architecture:
// embedding(vocabSize,128) -> lstm(64,sequences) -> dropout(0.3) -> lstm(32) -> dense(numClasses,softmax).
// It has no embedding layer and no dropout: the feature vector feeds the
// first LSTM cell directly. The LSTM cells run real gated recurrence (see lstm.go) but,
// matching the teacher's own acknowledged simplification level for its
// NeuralNetworkTrainer, are randomly initialized and held fixed: only the
// final dense classification head is gradient-trained.
type LSTMModel struct {
	Cell1  *LSTMCell
	Cell2  *LSTMCell
	Head   *Network
}

func BuildLSTM(seed int64, inputDim, numClasses int) *LSTMModel {
	rng := rand.New(rand.NewSource(seed))
	cell1 := newLSTMCell(rng, inputDim, 64)
	cell2 := newLSTMCell(rng, 64, 32)
	head := &Network{
		Layers: []*DenseLayer{newDenseLayer(rng, 32, numClasses, ActivationSoftmax, 0.0)},
		rng:    rng,
	}
	return &LSTMModel{Cell1: cell1, Cell2: cell2, Head: head}
}

// Forward treats the feature vector as a one-step sequence through both LSTM
// layers (spec's "sequences" framing collapses to a single step for tabular
// input) and feeds the final hidden state to the dense head.
func (m *LSTMModel) Forward(input []float64) []float64 {
	h1, _ := m.Cell1.step(input, nil, nil)
	h2, _ := m.Cell2.step(h1, nil, nil)
	return m.Head.Forward(h2)
}

func (m *LSTMModel) trainStep(input, target []float64, lr float64) float64 {
	h1, _ := m.Cell1.step(input, nil, nil)
	h2, _ := m.Cell2.step(h1, nil, nil)
	return m.Head.trainStep(h2, target, lr, true)
}
