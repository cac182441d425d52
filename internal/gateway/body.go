package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/ajramos/orionmail/internal/mail"
	"github.com/ajramos/orionmail/internal/mailserver"
	"github.com/ajramos/orionmail/internal/render"
	"github.com/ajramos/orionmail/internal/services"
)

// MessageBody returns the readable text of uid from the body cache, the
// durable cache or the server, in that order.
func (s *Service) MessageBody(ctx context.Context, uid uint32) (string, error) {
	if body, ok := s.bodies.Get(uid); ok {
		return body, nil
	}
	if body, ok, err := s.store.Body(ctx, s.folder, uid); err != nil {
		return "", err
	} else if ok {
		s.bodies.Add(uid, body)
		return body, nil
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer s.sem.Release(1)
	return s.fetchBody(ctx, kindPrimary, uid)
}

// fetchBody downloads, parses and stores one body. Callers hold a permit.
func (s *Service) fetchBody(ctx context.Context, kind sessionKind, uid uint32) (string, error) {
	var raw []byte
	err := s.pool.with(ctx, kind, func(sess RemoteSession) error {
		var err error
		raw, err = sess.FetchBody(uid)
		return err
	})
	if err != nil {
		return "", classify(err)
	}

	text := bodyText(mailserver.ParseBody(raw))
	if err := s.store.SaveBody(ctx, s.folder, uid, text, mail.Snippet(text)); err != nil {
		return "", fmt.Errorf("store body of %d: %w", uid, err)
	}
	s.bodies.Add(uid, text)
	return text, nil
}

// bodyText prefers the text part and falls back to the rendered HTML part.
func bodyText(b mailserver.Body) string {
	if strings.TrimSpace(b.Text) != "" {
		return strings.TrimSpace(b.Text)
	}
	if b.HTML != "" {
		return render.HTMLToText(b.HTML)
	}
	return ""
}

// prefetchInBackground fetches the newest bodies not yet stored.
func (s *Service) prefetchInBackground() {
	if s.closed.Load() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if n, err := s.Prefetch(s.ctx); err != nil && s.ctx.Err() == nil {
			s.logger.WithError(err).Warn("body prefetch failed")
		} else if n > 0 {
			s.logger.WithField("count", n).Debug("bodies prefetched")
		}
	}()
}

// Prefetch fetches up to PrefetchLimit of the newest bodies not yet stored and
// returns how many were fetched. It uses its own session and leaves one fetch
// permit free for the user.
func (s *Service) Prefetch(ctx context.Context) (int, error) {
	uids, err := s.store.UnfetchedUIDs(ctx, s.folder, s.opts.PrefetchLimit)
	if err != nil {
		return 0, err
	}
	fetched := 0
	for _, uid := range uids {
		if err := s.bgSem.Acquire(ctx, 1); err != nil {
			return fetched, err
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.bgSem.Release(1)
			return fetched, err
		}
		_, err := s.fetchBody(ctx, kindPrefetch, uid)
		s.sem.Release(1)
		s.bgSem.Release(1)
		if err != nil {
			if services.IsSessionInvalid(err) || ctx.Err() != nil {
				return fetched, err
			}
			s.logger.WithError(err).WithField("uid", uid).Debug("prefetch skipped message")
			continue
		}
		fetched++
	}
	return fetched, nil
}
