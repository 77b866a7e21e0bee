package domain

import "testing"

func TestCanTransition(t *testing.T) {
	chain := []OrderStatus{
		OrderStatusPending,
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusArrived,
		OrderStatusOutForDelivery,
		OrderStatusDelivered,
	}

	t.Run("forward chain advances one step at a time", func(t *testing.T) {
		for i := 0; i < len(chain)-1; i++ {
			if !CanTransition(chain[i], chain[i+1]) {
				t.Errorf("expected %s -> %s to be legal", chain[i], chain[i+1])
			}
		}
	})

	t.Run("skipping a step is rejected", func(t *testing.T) {
		for i := 0; i < len(chain); i++ {
			for j := i + 2; j < len(chain); j++ {
				if CanTransition(chain[i], chain[j]) {
					t.Errorf("expected %s -> %s to be illegal", chain[i], chain[j])
				}
			}
		}
	})

	t.Run("moving backward is rejected", func(t *testing.T) {
		for i := 1; i < len(chain); i++ {
			for j := 0; j < i; j++ {
				if CanTransition(chain[i], chain[j]) {
					t.Errorf("expected %s -> %s to be illegal", chain[i], chain[j])
				}
			}
		}
	})

	t.Run("cancel allowed from every state before delivery", func(t *testing.T) {
		for _, from := range chain[:len(chain)-1] {
			if !CanTransition(from, OrderStatusCancelled) {
				t.Errorf("expected %s -> Cancelled to be legal", from)
			}
		}
		if CanTransition(OrderStatusDelivered, OrderStatusCancelled) {
			t.Error("expected Delivered -> Cancelled to be illegal")
		}
	})

	t.Run("returned only from delivered", func(t *testing.T) {
		if !CanTransition(OrderStatusDelivered, OrderStatusReturned) {
			t.Error("expected Delivered -> Returned to be legal")
		}
		for _, from := range chain[:len(chain)-1] {
			if CanTransition(from, OrderStatusReturned) {
				t.Errorf("expected %s -> Returned to be illegal", from)
			}
		}
	})

	t.Run("terminal states accept nothing", func(t *testing.T) {
		for _, from := range []OrderStatus{OrderStatusCancelled, OrderStatusReturned} {
			for _, to := range append(chain, OrderStatusCancelled, OrderStatusReturned) {
				if CanTransition(from, to) {
					t.Errorf("expected %s -> %s to be illegal", from, to)
				}
			}
		}
	})

	t.Run("self transition is rejected", func(t *testing.T) {
		for _, s := range chain {
			if CanTransition(s, s) {
				t.Errorf("expected %s -> %s to be illegal", s, s)
			}
		}
	})
}
