// Package runtime provides environment/runtime detection helpers shared across the service layer.
package runtime

import (
	"os"
	"strings"
	"sync"
)

// strictIdentityModeOnce caches the strict identity mode check at startup.
var (
	strictIdentityModeOnce  sync.Once
	strictIdentityModeValue bool
)

// ResetStrictIdentityModeCache resets the cached strict identity mode value.
// This should only be used in tests.
func ResetStrictIdentityModeCache() {
	strictIdentityModeOnce = sync.Once{}
	strictIdentityModeValue = false
}

// StrictIdentityMode returns true when the service should fail closed on
// deployment-target transport security (e.g. refuse plaintext HTTP to a
// Platform A/B target).
//
// We treat mutual-TLS credentials provisioned for outbound deployment-target
// calls (DEPLOY_MTLS_CERT/KEY/CA) as "strict" too, so a mis-set AGENT_ENV
// cannot silently weaken a trust boundary that's otherwise configured.
func StrictIdentityMode() bool {
	strictIdentityModeOnce.Do(func() {
		env := Env()
		hasMTLSCreds := strings.TrimSpace(os.Getenv("DEPLOY_MTLS_CERT")) != "" &&
			strings.TrimSpace(os.Getenv("DEPLOY_MTLS_KEY")) != "" &&
			strings.TrimSpace(os.Getenv("DEPLOY_MTLS_CA")) != ""
		strictIdentityModeValue = env == Production || hasMTLSCreds
	})
	return strictIdentityModeValue
}
