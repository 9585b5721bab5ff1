package autograd

import (
	"fmt"

	"github.com/viterin/vek/vek32"
)

// Backward propagates gradients from a one-element tensor, seeding d t / d t = 1.
// It is a no-op when t does not require gradients.
func (t *Tensor) Backward() {
	if len(t.Data) != 1 {
		panic(fmt.Sprintf("autograd: Backward on tensor with %d elements; use BackwardWith", len(t.Data)))
	}
	t.BackwardWith([]float32{1})
}

// BackwardWith propagates the upstream gradient grad (same length as t).
func (t *Tensor) BackwardWith(grad []float32) {
	if !t.requiresGrad {
		return
	}
	if len(grad) != len(t.Data) {
		panic(fmt.Sprintf("autograd: gradient of %d elements for tensor of %d", len(grad), len(t.Data)))
	}

	order := topoSort(t)

	// Intermediate gradients are recomputed per call; leaves accumulate.
	for _, n := range order {
		if n != t && n.backFn != nil {
			clear(n.Grad)
		}
	}
	if t.backFn != nil {
		copy(t.Grad, grad)
	} else {
		vek32.Add_Inplace(t.Grad, grad)
	}

	for i := len(order) - 1; i >= 0; i-- {
		if fn := order[i].backFn; fn != nil {
			fn()
		}
	}
}

// topoSort returns the graph reachable from root in dependency order
// (parents before children).
func topoSort(root *Tensor) []*Tensor {
	var order []*Tensor
	visited := make(map[*Tensor]struct{})

	type frame struct {
		t    *Tensor
		next int
	}
	stack := []frame{{t: root}}
	visited[root] = struct{}{}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.t.parents) {
			p := top.t.parents[top.next]
			top.next++
			if _, ok := visited[p]; ok || !p.requiresGrad {
				continue
			}
			visited[p] = struct{}{}
			stack = append(stack, frame{t: p})
			continue
		}
		order = append(order, top.t)
		stack = stack[:len(stack)-1]
	}
	return order
}
