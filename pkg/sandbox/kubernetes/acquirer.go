// Package kubernetes resolves sandbox service instances through
// agent-sandbox SandboxClaim resources: each acquisition claims a sandbox
// from a template, waits until it is Ready and hands out its service URL.
package kubernetes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"
	extensionsv1alpha1 "sigs.k8s.io/agent-sandbox/extensions/api/v1alpha1"

	"github.com/bossm747/agentboyong/pkg/debug"
	"github.com/bossm747/agentboyong/pkg/sandbox"
)

var _ sandbox.Acquirer = (*ClaimAcquirer)(nil)

// ManagedByLabel marks claims created by this process.
const ManagedByLabel = "app.kubernetes.io/managed-by"

// Config controls claim creation.
type Config struct {
	Template     string
	Namespace    string
	Port         int
	ReadyTimeout time.Duration
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Namespace == "" {
		c.Namespace = "default"
	}
	if c.Port == 0 {
		c.Port = 5000
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = 2 * time.Minute
	}
	if c.PollInterval == 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	return c
}

// ClaimAcquirer creates one SandboxClaim per Acquire and deletes it on
// release.
type ClaimAcquirer struct {
	client client.Client
	cfg    Config
}

// NewClaimAcquirer returns an acquirer using c for API access.
func NewClaimAcquirer(c client.Client, cfg Config) *ClaimAcquirer {
	return &ClaimAcquirer{client: c, cfg: cfg.withDefaults()}
}

// NewScheme returns a runtime.Scheme with the agent-sandbox types registered.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	if err := sandboxv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register sandbox types: %w", err)
	}
	if err := extensionsv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register extensions types: %w", err)
	}
	return scheme, nil
}

// Acquire claims a sandbox and returns http://<serviceFQDN>:<port>.
func (a *ClaimAcquirer) Acquire(ctx context.Context) (string, func(), error) {
	name := claimName()

	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: a.cfg.Namespace,
			Labels:    map[string]string{ManagedByLabel: "boyong-exec"},
		},
		Spec: extensionsv1alpha1.SandboxClaimSpec{
			TemplateRef: extensionsv1alpha1.SandboxTemplateRef{Name: a.cfg.Template},
		},
	}
	if err := a.client.Create(ctx, claim); err != nil {
		return "", nil, fmt.Errorf("create SandboxClaim %q: %w", name, err)
	}
	debug.Log("sandbox", "created SandboxClaim", "name", name, "namespace", a.cfg.Namespace, "template", a.cfg.Template)

	fqdn, err := a.waitForReady(ctx, name)
	if err != nil {
		a.deleteClaim(context.Background(), name)
		return "", nil, err
	}

	baseURL := fmt.Sprintf("http://%s:%d", fqdn, a.cfg.Port)
	slog.Info("sandbox claimed", "claim", name, "url", baseURL)
	return baseURL, func() { a.deleteClaim(context.Background(), name) }, nil
}

// waitForReady polls the Sandbox named after the claim until it reports
// Ready with a service FQDN.
func (a *ClaimAcquirer) waitForReady(ctx context.Context, name string) (string, error) {
	var fqdn string
	key := types.NamespacedName{Name: name, Namespace: a.cfg.Namespace}

	err := wait.PollUntilContextTimeout(ctx, a.cfg.PollInterval, a.cfg.ReadyTimeout, false,
		func(ctx context.Context) (bool, error) {
			sb := &sandboxv1alpha1.Sandbox{}
			if err := a.client.Get(ctx, key, sb); err != nil {
				// The controller may not have created it yet.
				debug.Log("sandbox", "waiting for Sandbox", "name", name, "error", err.Error())
				return false, nil
			}
			if !isReady(sb) || sb.Status.ServiceFQDN == "" {
				return false, nil
			}
			fqdn = sb.Status.ServiceFQDN
			return true, nil
		})
	if err != nil {
		return "", fmt.Errorf("waiting for Sandbox %q to become ready (timeout %s): %w", name, a.cfg.ReadyTimeout, err)
	}
	return fqdn, nil
}

func isReady(sb *sandboxv1alpha1.Sandbox) bool {
	for _, c := range sb.Status.Conditions {
		if c.Type == string(sandboxv1alpha1.SandboxConditionReady) && c.Status == metav1.ConditionTrue {
			return true
		}
	}
	return false
}

// deleteClaim is best-effort; failures are logged.
func (a *ClaimAcquirer) deleteClaim(ctx context.Context, name string) {
	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: a.cfg.Namespace},
	}
	if err := a.client.Delete(ctx, claim); err != nil {
		slog.Warn("failed to delete SandboxClaim", "name", name, "namespace", a.cfg.Namespace, "error", err.Error())
		return
	}
	debug.Log("sandbox", "deleted SandboxClaim", "name", name, "namespace", a.cfg.Namespace)
}

// claimName is replaced in tests.
var claimName = func() string {
	return "boyong-" + uuid.NewString()[:8]
}
