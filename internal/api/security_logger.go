package api

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MJE43/pf-outcome-engine/internal/logging"
	"github.com/MJE43/pf-outcome-engine/internal/verify"
)

// SecurityLogger handles security-conscious logging with no raw seed exposure
type SecurityLogger struct {
	logger logrus.FieldLogger
}

// NewSecurityLogger creates a security logger writing through log.
func NewSecurityLogger(log logrus.FieldLogger) *SecurityLogger {
	return &SecurityLogger{logger: log.WithField("channel", "security")}
}

// LogVerifyOperation logs verify operations with security-safe parameters.
// Verification seeds are already revealed, but are still hashed.
func (sl *SecurityLogger) LogVerifyOperation(requestID string, req verify.Request, report verify.Report) {
	fields := logrus.Fields{
		"request_id":     requestID,
		"game":           req.Game,
		"server_hash":    logging.HashSeed(req.ServerSeed),
		"client_hash":    logging.HashSeed(req.ClientSeed),
		"nonce":          req.Nonce,
		"params":         logging.Sanitize(req.Params),
		"status":         report.Status,
		"engine_version": EngineVersion,
	}
	if report.Outcome != nil {
		fields["metric"] = report.Outcome.Metric
		fields["metric_label"] = report.Outcome.MetricLabel
	}
	sl.logger.WithFields(fields).Info("verify_operation")
}

// LogSeedHashOperation logs seed hashing operations (only the hash, never the raw seed)
func (sl *SecurityLogger) LogSeedHashOperation(requestID, serverSeed, resultHash string) {
	sl.logger.WithFields(logrus.Fields{
		"request_id":     requestID,
		"input_hash":     logging.HashSeed(serverSeed),
		"result_hash":    resultHash,
		"engine_version": EngineVersion,
	}).Info("seed_hash_operation")
}

// LogScanOperation logs a scan request without its seeds.
func (sl *SecurityLogger) LogScanOperation(requestID string, req *ScanRequest) {
	sl.logger.WithFields(logrus.Fields{
		"request_id":  requestID,
		"game":        req.Game,
		"server_hash": logging.HashSeed(req.Seeds.Server),
		"client_hash": logging.HashSeed(req.Seeds.Client),
		"nonce_start": req.NonceStart,
		"nonce_end":   req.NonceEnd,
		"target_op":   req.TargetOp,
		"target_val":  req.TargetVal,
		"limit":       req.Limit,
		"timeout_ms":  req.TimeoutMs,
		"params":      logging.Sanitize(req.Params),
	}).Info("scan_operation")
}

// LogSecurityEvent logs security-related events (failed validations, suspicious activity)
func (sl *SecurityLogger) LogSecurityEvent(requestID, eventType, description string, context map[string]any, remoteAddr string) {
	sl.logger.WithFields(logging.Sanitize(context)).WithFields(logrus.Fields{
		"request_id":     requestID,
		"type":           eventType,
		"description":    description,
		"remote_addr":    remoteAddr,
		"engine_version": EngineVersion,
	}).Warn("security_event")
}

// LogAuditEvent logs audit events for compliance and debugging
func (sl *SecurityLogger) LogAuditEvent(requestID, action, resource, outcome string, details map[string]any) {
	sl.logger.WithFields(logging.Sanitize(details)).WithFields(logrus.Fields{
		"request_id":     requestID,
		"action":         action,
		"resource":       resource,
		"outcome":        outcome,
		"engine_version": EngineVersion,
	}).Info("audit_event")
}

// LogSystemStartup logs system startup information
func (sl *SecurityLogger) LogSystemStartup(addr string, config map[string]any) {
	sl.logger.WithFields(logging.Sanitize(config)).WithFields(logrus.Fields{
		"addr":           addr,
		"engine_version": EngineVersion,
		"git_commit":     GitCommit,
		"build_time":     BuildTime,
	}).Info("system_startup")
}

// LogSystemShutdown logs system shutdown information
func (sl *SecurityLogger) LogSystemShutdown(reason string, uptime time.Duration) {
	sl.logger.WithFields(logrus.Fields{
		"reason":         reason,
		"uptime":         uptime,
		"engine_version": EngineVersion,
	}).Info("system_shutdown")
}
