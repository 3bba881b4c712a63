// Package filereg tracks applications defined as YAML files on disk. Their
// names are reserved and cannot be used by stored applications.
//
// # Usage Example
//
//	reg := filereg.New("/etc/appmgt/apps", logger, metrics)
//	if err := reg.Load(); err != nil {
//		logger.WithError(err).Warn("some application files were rejected")
//	}
//	if err := reg.Watch(ctx); err != nil {
//		return err
//	}
//
// Watch reloads the directory on every change until ctx ends. Healthy reports
// the last load error, for use as an observability.Probe.
package filereg
