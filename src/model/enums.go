package model

// ProductType selects the broker product an order is placed under.
// Delivery (CNC) positions can be carried across sessions; Intraday (MIS)
// positions must be squared off the same day.
type ProductType string

const (
	ProductDelivery ProductType = "delivery"
	ProductIntraday ProductType = "intraday"
)

// PositionSide is the direction of an open stage.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// PersistenceTarget distinguishes the two lifecycle variants of a Stage:
// a Position opened this session versus a Holding carried from a previous
// session. Only holdings are persisted.
type PersistenceTarget string

const (
	TargetPosition PersistenceTarget = "position"
	TargetHolding  PersistenceTarget = "holding"
)

// CloseReason explains why a stage left the open state.
type CloseReason string

const (
	CloseProfit       CloseReason = "profit"
	CloseLoss         CloseReason = "loss"
	CloseForced       CloseReason = "forced"
	CloseCostRecovery CloseReason = "cost_recovery"
)
