package training

import (
	"math"
	"math/rand"
)

// LSTMCell is a single-step LSTM gate stack: forget, input, candidate, and
// output gates over a concatenated [input; hidden] vector, per the standard
// LSTM formulation. Weights are randomly initialized and not trained here —
// see BuildLSTM's doc comment for why.
type LSTMCell struct {
	inputDim  int
	hiddenDim int
	Wf, Wi, Wc, Wo [][]float64 // (inputDim+hiddenDim) x hiddenDim
	Bf, Bi, Bc, Bo []float64
}

func newLSTMCell(rng *rand.Rand, inputDim, hiddenDim int) *LSTMCell {
	concat := inputDim + hiddenDim
	mk := func() [][]float64 {
		w := make([][]float64, concat)
		scale := 0.1
		for i := range w {
			w[i] = make([]float64, hiddenDim)
			for j := range w[i] {
				w[i][j] = rng.NormFloat64() * scale
			}
		}
		return w
	}
	return &LSTMCell{
		inputDim: inputDim, hiddenDim: hiddenDim,
		Wf: mk(), Wi: mk(), Wc: mk(), Wo: mk(),
		Bf: make([]float64, hiddenDim), Bi: make([]float64, hiddenDim),
		Bc: make([]float64, hiddenDim), Bo: make([]float64, hiddenDim),
	}
}

// step runs one LSTM timestep. prevHidden/prevCell default to zero vectors
// when nil (the start of a sequence).
func (c *LSTMCell) step(input, prevHidden, prevCell []float64) (hidden, cell []float64) {
	if prevHidden == nil {
		prevHidden = make([]float64, c.hiddenDim)
	}
	if prevCell == nil {
		prevCell = make([]float64, c.hiddenDim)
	}
	concat := append(append([]float64{}, input...), prevHidden...)

	forget := gateForward(concat, c.Wf, c.Bf, sigmoid)
	inputGate := gateForward(concat, c.Wi, c.Bi, sigmoid)
	candidate := gateForward(concat, c.Wc, c.Bc, tanh)
	output := gateForward(concat, c.Wo, c.Bo, sigmoid)

	cell = make([]float64, c.hiddenDim)
	hidden = make([]float64, c.hiddenDim)
	for j := 0; j < c.hiddenDim; j++ {
		cell[j] = forget[j]*prevCell[j] + inputGate[j]*candidate[j]
		hidden[j] = output[j] * tanh(cell[j])
	}
	return hidden, cell
}

func gateForward(concat []float64, w [][]float64, b []float64, activation func(float64) float64) []float64 {
	out := make([]float64, len(b))
	for j := range out {
		sum := b[j]
		for i, x := range concat {
			sum += x * w[i][j]
		}
		out[j] = activation(sum)
	}
	return out
}

func tanh(x float64) float64 {
	return math.Tanh(x)
}
