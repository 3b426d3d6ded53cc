package logkey

// Attribute keys shared by every slog call so log lines can be queried uniformly.
const (
	TraceID   = "TRACE ID"
	ERROR     = "ERROR"
	UserID    = "UserID"
	OrderID   = "OrderID"
	ProductID = "ProductID"
	ReviewID  = "ReviewID"
	Reference = "Reference"
)
