package log

const (
	// HTTP request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Chat actor
	FieldConnID    = "conn_id"
	FieldUserID    = "user_id"
	FieldUsername  = "username"
	FieldRoom      = "room"
	FieldMessageID = "message_id"

	FieldService = "service"

	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
