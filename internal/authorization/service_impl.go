package authorization

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	_ "embed"
	"encoding/hex"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/paydesk/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectTransactions = "transactions"
	ObjectCaptures     = "captures"
	ObjectRefunds      = "refunds"
	ObjectWebhooks     = "webhooks"
	ObjectConsole      = "console"
)

const (
	ActionView  = "view"
	ActionIssue = "issue"
)

// localSubject is the principal used when admin auth is disabled.
const localSubject = "admin:local"

type Params struct {
	fx.In

	Log      *zap.Logger
	Config   config.Config
	Enforcer *casbin.SyncedEnforcer
}

type adminKey struct {
	digest [sha256.Size]byte
	role   string
}

type ServiceImpl struct {
	log          *zap.Logger
	enforcer     *casbin.SyncedEnforcer
	keys         []adminKey
	authDisabled bool
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	log := p.Log.Named("authorization.service")

	keys := make([]adminKey, 0, len(p.Config.AdminAPIKeys))
	for key, role := range p.Config.AdminAPIKeys {
		switch role {
		case RoleViewer, RoleOperator:
		default:
			log.Warn("admin key with unknown role ignored", zap.String("role", role), zap.String("key", fingerprint(key)))
			continue
		}
		keys = append(keys, adminKey{digest: sha256.Sum256([]byte(key)), role: role})
	}
	if p.Config.AdminAuthDisabled {
		log.Warn("admin authentication disabled, every caller is an operator")
	}

	return &ServiceImpl{
		log:          log,
		enforcer:     p.Enforcer,
		keys:         keys,
		authDisabled: p.Config.AdminAuthDisabled,
	}
}

func (s *ServiceImpl) Authenticate(ctx context.Context, key string) (Principal, error) {
	if s.authDisabled {
		return Principal{Subject: localSubject, Role: RoleOperator}, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Principal{}, ErrUnauthorized
	}

	// Every configured key is compared so timing does not depend on which matched.
	digest := sha256.Sum256([]byte(key))
	role := ""
	for _, candidate := range s.keys {
		if subtle.ConstantTimeCompare(digest[:], candidate.digest[:]) == 1 {
			role = candidate.role
		}
	}
	if role == "" {
		return Principal{}, ErrUnauthorized
	}
	return Principal{Subject: "admin:" + fingerprint(key), Role: role}, nil
}

func (s *ServiceImpl) Authorize(ctx context.Context, principal Principal, object string, action string) error {
	subject := strings.TrimSpace(principal.Subject)
	if subject == "" || strings.TrimSpace(principal.Role) == "" {
		return ErrUnauthorized
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	if err := s.ensureGrouping(subject, roleSubject(principal.Role)); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization denied",
			zap.String("subject", subject),
			zap.String("role", principal.Role),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping keeps exactly one role link for subject. Keys can change
// role between restarts, so stale links are dropped.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func roleSubject(role string) string {
	return "role:" + strings.ToLower(strings.TrimSpace(role))
}

// fingerprint identifies a key in logs and policies without exposing it.
func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	viewer := roleSubject(RoleViewer)
	operator := roleSubject(RoleOperator)

	policies := [][]string{
		{viewer, ObjectTransactions, ActionView},
		{viewer, ObjectCaptures, ActionView},
		{viewer, ObjectRefunds, ActionView},
		{viewer, ObjectWebhooks, ActionView},
		{viewer, ObjectConsole, ActionView},

		{operator, ObjectRefunds, ActionIssue},
	}
	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	has, err := enforcer.HasGroupingPolicy(operator, viewer)
	if err != nil {
		return err
	}
	if !has {
		if _, err := enforcer.AddGroupingPolicy(operator, viewer); err != nil {
			return err
		}
	}
	return nil
}
