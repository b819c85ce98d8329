package inventory

// MovementObserver is notified once a movement row has been committed.
type MovementObserver interface {
	MovementPosted(mv Movement)
}

// AdjustmentPostedEvent is written to the audit log after a manual correction.
type AdjustmentPostedEvent struct {
	ProductID   int64
	Type        MovementType
	Quantity    int64
	AverageCost int64
	MovementIDs []int64
}

func (e AdjustmentPostedEvent) meta() map[string]any {
	return map[string]any{
		"product_id":   e.ProductID,
		"type":         e.Type.String(),
		"quantity":     e.Quantity,
		"average_cost": e.AverageCost,
		"movements":    e.MovementIDs,
	}
}
