package optimizer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// checkShapes verifies that params and grads pair up one to one.
func checkShapes(params, grads []*mat.Dense) error {
	if len(params) == 0 {
		return fmt.Errorf("no parameters provided")
	}
	if len(params) != len(grads) {
		return fmt.Errorf("parameter count mismatch: %d params, %d gradients", len(params), len(grads))
	}
	for i := range params {
		pr, pc := params[i].Dims()
		gr, gc := grads[i].Dims()
		if pr != gr || pc != gc {
			return fmt.Errorf("gradient %d is %dx%d, parameter is %dx%d", i, gr, gc, pr, pc)
		}
	}
	return nil
}

// ensureSlots allocates zeroed slot buffers shaped like params, or checks
// that restored ones still fit.
func ensureSlots(name string, slots []*mat.Dense, params []*mat.Dense) ([]*mat.Dense, error) {
	if slots == nil {
		slots = make([]*mat.Dense, len(params))
		for i, p := range params {
			r, c := p.Dims()
			slots[i] = mat.NewDense(r, c, nil)
		}
		return slots, nil
	}
	if len(slots) != len(params) {
		return nil, fmt.Errorf("%s buffers: have %d, parameters %d", name, len(slots), len(params))
	}
	for i, p := range params {
		pr, pc := p.Dims()
		sr, sc := slots[i].Dims()
		if pr != sr || pc != sc {
			return nil, fmt.Errorf("%s buffer %d is %dx%d, parameter is %dx%d", name, i, sr, sc, pr, pc)
		}
	}
	return slots, nil
}

// marshalBuffers serializes every slot buffer in order.
func marshalBuffers(groups ...[]*mat.Dense) ([][]byte, error) {
	var out [][]byte
	for _, group := range groups {
		for i, m := range group {
			data, err := m.MarshalBinary()
			if err != nil {
				return nil, fmt.Errorf("failed to marshal buffer %d: %v", i, err)
			}
			out = append(out, data)
		}
	}
	return out, nil
}

// unmarshalBuffers decodes buffers into groups of equal size. Zero buffers
// yields nil groups, which means "not allocated yet".
func unmarshalBuffers(data [][]byte, groups int) ([][]*mat.Dense, error) {
	out := make([][]*mat.Dense, groups)
	if len(data) == 0 {
		return out, nil
	}
	if len(data)%groups != 0 {
		return nil, fmt.Errorf("buffer count %d is not a multiple of %d", len(data), groups)
	}
	per := len(data) / groups
	for g := 0; g < groups; g++ {
		out[g] = make([]*mat.Dense, per)
		for i := 0; i < per; i++ {
			// UnmarshalBinary requires an empty receiver.
			m := &mat.Dense{}
			if err := m.UnmarshalBinary(data[g*per+i]); err != nil {
				return nil, fmt.Errorf("failed to unmarshal buffer %d: %v", g*per+i, err)
			}
			out[g][i] = m
		}
	}
	return out, nil
}

// effectiveGrad returns grad + weightDecay*param without touching grad.
func effectiveGrad(param, grad *mat.Dense, weightDecay float64) *mat.Dense {
	g := mat.DenseCopyOf(grad)
	if weightDecay != 0 {
		var decay mat.Dense
		decay.Scale(weightDecay, param)
		g.Add(g, &decay)
	}
	return g
}
