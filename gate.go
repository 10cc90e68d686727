package authcore

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/tcgemporium/authcore/jwt"
	"go.uber.org/zap"
)

// RoutePolicy decides which destinations a token purpose may reach:
//
//	temporary  only MFAVerifyPath
//	access     everything except MFAVerifyPath
//	admin      only paths under AdminPrefix
//	other      unauthenticated
type RoutePolicy struct {
	MFAVerifyPath string
	AdminPrefix   string
}

// Authorize applies the policy to a request path. It returns nil,
// ErrForbidden, or ErrUnauthenticated for purposes it does not know.
func (p RoutePolicy) Authorize(purpose jwt.Purpose, requestPath string) error {
	clean := cleanRequestPath(requestPath)

	switch purpose {
	case jwt.PurposeTemporary:
		if clean == p.MFAVerifyPath {
			return nil
		}
		return ErrForbidden
	case jwt.PurposeAccess:
		if clean == p.MFAVerifyPath {
			return ErrForbidden
		}
		return nil
	case jwt.PurposeAdmin:
		if underPrefix(clean, p.AdminPrefix) {
			return nil
		}
		return ErrForbidden
	default:
		return ErrUnauthenticated
	}
}

func cleanRequestPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// underPrefix matches whole segments: /api/v1/admin matches itself and
// /api/v1/admin/x but not /api/v1/administrators.
func underPrefix(p, prefix string) bool {
	if p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}

// Gate verifies a token and applies the route policy for requestPath.
// Every verification failure, revoked token, and unknown purpose returns
// ErrUnauthenticated; the precise cause is only logged.
func (e *Engine) Gate(ctx context.Context, token, requestPath string) (*jwt.Claims, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observeLatency(MetricGateLatency, start)

	claims, err := e.tokens.Parse(token, e.now())
	if err != nil {
		e.logger.Debug("gate: token rejected", zap.Error(err))
		e.metricInc(MetricGateUnauthenticated)
		return nil, ErrUnauthenticated
	}

	if e.revocations != nil {
		revoked, err := e.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			e.logger.Warn("gate: revocation lookup failed", zap.String("jti", claims.ID), zap.Error(err))
			e.metricInc(MetricGateUnauthenticated)
			return nil, ErrUnauthenticated
		}
		if revoked {
			e.logger.Debug("gate: token revoked", zap.String("jti", claims.ID))
			e.metricInc(MetricGateUnauthenticated)
			return nil, ErrUnauthenticated
		}
	}

	if err := e.policy.Authorize(claims.Purpose, requestPath); err != nil {
		e.metricInc(gateMetric(err))
		e.emitAudit(ctx, auditEventGateRejected, false, claims.Subject, err, func() map[string]string {
			return map[string]string{"purpose": string(claims.Purpose), "path": cleanRequestPath(requestPath)}
		})
		return nil, err
	}

	e.metricInc(MetricGateAllowed)
	return claims, nil
}

func gateMetric(err error) MetricID {
	if err == ErrForbidden {
		return MetricGateForbidden
	}
	return MetricGateUnauthenticated
}
