package indexer

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/your-org/indexflow/internal/mapping"
)

// Configure reports whether everything the service needs at runtime is
// present: repository endpoint, transformer runtime (which must answer
// --version), transformer script, work dir and all mapping files. Every unmet
// condition that can be evaluated is logged.
func (s *Service) Configure(ctx context.Context) bool {
	log := s.logger.Named("readiness")
	ready := true
	fail := func(msg string, fields ...zap.Field) {
		log.Error(msg, fields...)
		ready = false
	}

	if s.settings.BaseURL == "" {
		fail("repository base url is not configured")
	}

	runtime := s.settings.Runtime
	if runtime == "" {
		fail("transformer runtime is not configured")
	} else if err := mapping.CheckReadable(runtime); err != nil {
		fail("transformer runtime is missing or unreadable", zap.String("runtime", runtime), zap.Error(err))
	} else {
		if out := s.runner.Run(ctx, runtime, "--version"); !out.Succeeded() {
			fail("transformer runtime did not answer a version request",
				zap.String("runtime", runtime),
				zap.Stringer("status", out.Status),
				zap.Int("exit_code", out.ExitCode),
				zap.Error(out.Err),
			)
		}
	}

	if script := s.settings.Script; script != "" {
		if err := mapping.CheckReadable(script); err != nil {
			fail("transformer script is missing or unreadable", zap.String("script", script), zap.Error(err))
		}
	}

	if err := checkDir(s.settings.WorkDir); err != nil {
		fail("work directory is unusable", zap.String("work_dir", s.settings.WorkDir), zap.Error(err))
	}

	if s.registry.BaseDir() == "" {
		fail("mappings directory is not configured")
	} else if err := s.registry.Validate(); err != nil {
		fail("mapping configuration is invalid", zap.Error(err))
	}

	if ready {
		log.Info("handler ready", zap.Strings("content_types", s.registry.ContentTypes()))
	}
	return ready
}

func checkDir(path string) error {
	if path == "" {
		return fmt.Errorf("not configured")
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}
