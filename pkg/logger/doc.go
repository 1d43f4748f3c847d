// Package logger builds *slog.Logger instances from functional options and
// environment configuration, and provides attribute helpers so ledger,
// gate and webhook logs share key names.
//
// New wraps the JSON or text handler with LogHandlerDecorator, which runs the
// registered ContextExtractor callbacks on each record. Cmd code typically
// does:
//
//	opts, err := logger.FromConfig(cfg.Log)
//	log := logger.New(append(opts,
//	    logger.WithContextValue("request_id", middleware.RequestIDKey),
//	    logger.WithContextExtractors(logger.UserExtractor(auth.UserFromContext)),
//	)...)
//
// Error and Errors return an empty attribute for nil errors, so
//
//	log.Info("done", logger.Error(err))
//
// needs no nil check.
package logger
