package embedding

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/core/ports"
)

// Failover implements ports.Embedder: the external model first, the hashed
// fallback on any failure that is not the caller's cancellation.
type Failover struct {
	primary         ports.TextEmbedder
	fallback        *Hashed
	fallbackEnabled bool
	observer        ports.EngineObserver
	logger          *slog.Logger
}

type Option func(*Failover)

func WithObserver(observer ports.EngineObserver) Option {
	return func(f *Failover) {
		if observer != nil {
			f.observer = observer
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Failover) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithoutFallback makes primary failures surface as temporary errors.
func WithoutFallback() Option {
	return func(f *Failover) {
		f.fallbackEnabled = false
	}
}

func NewFailover(primary ports.TextEmbedder, opts ...Option) *Failover {
	f := &Failover{
		primary:         primary,
		fallback:        NewHashed(),
		fallbackEnabled: true,
		observer:        ports.NopObserver{},
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var errNoPrimary = errors.New("no embedding model configured")

func (f *Failover) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	primaryErr := errNoPrimary
	if f.primary != nil {
		vector, model, err := f.primary.EmbedText(ctx, text)
		if err == nil && len(vector) > 0 {
			return domain.Embedding{Vector: vector, Model: model}, nil
		}
		if err == nil {
			err = errors.New("empty embedding result")
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Embedding{}, ctxErr
		}
		primaryErr = err
	}

	if !f.fallbackEnabled {
		return domain.Embedding{}, domain.WrapError(domain.ErrTemporary, "embed text", primaryErr)
	}

	f.logger.Warn("embedding_fallback", "model", HashedModel, "error", primaryErr)
	f.observer.ObserveEmbeddingFallback()
	return domain.Embedding{
		Vector:   f.fallback.Vector(text),
		Model:    HashedModel,
		Fallback: true,
	}, nil
}
