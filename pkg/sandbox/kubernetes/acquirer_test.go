package kubernetes

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"
	extensionsv1alpha1 "sigs.k8s.io/agent-sandbox/extensions/api/v1alpha1"
)

func newFakeClient(t *testing.T) client.Client {
	t.Helper()
	scheme, err := NewScheme()
	if err != nil {
		t.Fatalf("NewScheme: %v", err)
	}
	return fake.NewClientBuilder().WithScheme(scheme).WithStatusSubresource(&sandboxv1alpha1.Sandbox{}).Build()
}

func fixedName(t *testing.T, name string) {
	t.Helper()
	orig := claimName
	claimName = func() string { return name }
	t.Cleanup(func() { claimName = orig })
}

// markReady plays the controller: it creates the Sandbox for a claim and
// sets its Ready condition.
func markReady(c client.Client, name, namespace, fqdn string) error {
	sb := &sandboxv1alpha1.Sandbox{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
	}
	if err := c.Create(context.Background(), sb); err != nil {
		return fmt.Errorf("create sandbox: %w", err)
	}
	sb.Status.ServiceFQDN = fqdn
	sb.Status.Conditions = []metav1.Condition{{
		Type:               string(sandboxv1alpha1.SandboxConditionReady),
		Status:             metav1.ConditionTrue,
		LastTransitionTime: metav1.Now(),
		Reason:             "Ready",
	}}
	return c.Status().Update(context.Background(), sb)
}

func TestClaimAcquirer_Acquire(t *testing.T) {
	c := newFakeClient(t)
	fixedName(t, "boyong-claim-a")
	a := NewClaimAcquirer(c, Config{Template: "python-sandbox", Namespace: "agents", PollInterval: 20 * time.Millisecond, ReadyTimeout: 5 * time.Second})

	errCh := make(chan error, 1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		errCh <- markReady(c, "boyong-claim-a", "agents", "sb-a.agents.svc.cluster.local")
	}()

	url, release, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("markReady: %v", err)
	}
	if url != "http://sb-a.agents.svc.cluster.local:5000" {
		t.Errorf("url = %q", url)
	}

	claim := &extensionsv1alpha1.SandboxClaim{}
	key := client.ObjectKey{Name: "boyong-claim-a", Namespace: "agents"}
	if err := c.Get(context.Background(), key, claim); err != nil {
		t.Fatalf("claim not found: %v", err)
	}
	if claim.Spec.TemplateRef.Name != "python-sandbox" {
		t.Errorf("templateRef = %q", claim.Spec.TemplateRef.Name)
	}
	if claim.Labels[ManagedByLabel] != "boyong-exec" {
		t.Errorf("labels = %v", claim.Labels)
	}

	release()
	if err := c.Get(context.Background(), key, claim); err == nil {
		t.Error("claim still exists after release")
	}
}

func TestClaimAcquirer_CustomPort(t *testing.T) {
	c := newFakeClient(t)
	fixedName(t, "boyong-claim-port")
	if err := markReady(c, "boyong-claim-port", "default", "sb.default.svc"); err != nil {
		t.Fatalf("markReady: %v", err)
	}

	a := NewClaimAcquirer(c, Config{Template: "t", Port: 8080, PollInterval: 10 * time.Millisecond})
	url, release, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()
	if url != "http://sb.default.svc:8080" {
		t.Errorf("url = %q", url)
	}
}

func TestClaimAcquirer_TimeoutDeletesClaim(t *testing.T) {
	c := newFakeClient(t)
	fixedName(t, "boyong-claim-timeout")
	a := NewClaimAcquirer(c, Config{Template: "t", PollInterval: 20 * time.Millisecond, ReadyTimeout: 200 * time.Millisecond})

	if _, _, err := a.Acquire(context.Background()); err == nil {
		t.Fatal("expected timeout error")
	}

	claim := &extensionsv1alpha1.SandboxClaim{}
	if err := c.Get(context.Background(), client.ObjectKey{Name: "boyong-claim-timeout", Namespace: "default"}, claim); err == nil {
		t.Error("claim still exists after timeout")
	}
}

func TestClaimAcquirer_ContextCancelled(t *testing.T) {
	c := newFakeClient(t)
	fixedName(t, "boyong-claim-cancel")
	a := NewClaimAcquirer(c, Config{Template: "t", PollInterval: 20 * time.Millisecond, ReadyTimeout: 30 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	if _, _, err := a.Acquire(ctx); err == nil {
		t.Fatal("expected cancellation error")
	}
	claim := &extensionsv1alpha1.SandboxClaim{}
	if err := c.Get(context.Background(), client.ObjectKey{Name: "boyong-claim-cancel", Namespace: "default"}, claim); err == nil {
		t.Error("claim still exists after cancel")
	}
}

func TestClaimAcquirer_Concurrent(t *testing.T) {
	c := newFakeClient(t)

	var mu sync.Mutex
	n := 0
	orig := claimName
	claimName = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("boyong-claim-%d", n)
	}
	t.Cleanup(func() { claimName = orig })

	const agents = 3
	for i := 1; i <= agents; i++ {
		if err := markReady(c, fmt.Sprintf("boyong-claim-%d", i), "default", fmt.Sprintf("sb-%d.default.svc", i)); err != nil {
			t.Fatalf("markReady: %v", err)
		}
	}

	a := NewClaimAcquirer(c, Config{Template: "t", PollInterval: 10 * time.Millisecond})
	var wg sync.WaitGroup
	urls := make([]string, agents)
	errs := make([]error, agents)
	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var release func()
			urls[i], release, errs[i] = a.Acquire(context.Background())
			if release != nil {
				release()
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := range urls {
		if errs[i] != nil {
			t.Errorf("acquire %d: %v", i, errs[i])
			continue
		}
		if seen[urls[i]] {
			t.Errorf("duplicate url %q", urls[i])
		}
		seen[urls[i]] = true
	}
}

func TestIsReady(t *testing.T) {
	ready := string(sandboxv1alpha1.SandboxConditionReady)
	tests := []struct {
		name       string
		conditions []metav1.Condition
		want       bool
	}{
		{"none", nil, false},
		{"ready", []metav1.Condition{{Type: ready, Status: metav1.ConditionTrue}}, true},
		{"not ready", []metav1.Condition{{Type: ready, Status: metav1.ConditionFalse}}, false},
		{"other condition", []metav1.Condition{{Type: "Available", Status: metav1.ConditionTrue}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := &sandboxv1alpha1.Sandbox{Status: sandboxv1alpha1.SandboxStatus{Conditions: tt.conditions}}
			if got := isReady(sb); got != tt.want {
				t.Errorf("isReady() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Namespace != "default" || cfg.Port != 5000 || cfg.ReadyTimeout != 2*time.Minute || cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("defaults = %+v", cfg)
	}
}
