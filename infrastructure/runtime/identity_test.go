package runtime

import "testing"

func TestStrictIdentityMode(t *testing.T) {
	t.Run("production env", func(t *testing.T) {
		ResetStrictIdentityModeCache()
		t.Setenv("AGENT_ENV", "production")
		if !StrictIdentityMode() {
			t.Fatalf("StrictIdentityMode() = false, want true")
		}
	})

	t.Run("mtls credentials provisioned", func(t *testing.T) {
		ResetStrictIdentityModeCache()
		t.Setenv("AGENT_ENV", "development")
		t.Setenv("DEPLOY_MTLS_CERT", "cert")
		t.Setenv("DEPLOY_MTLS_KEY", "key")
		t.Setenv("DEPLOY_MTLS_CA", "ca")
		if !StrictIdentityMode() {
			t.Fatalf("StrictIdentityMode() = false, want true")
		}
	})

	t.Run("dev, no credentials", func(t *testing.T) {
		ResetStrictIdentityModeCache()
		t.Setenv("AGENT_ENV", "development")
		if StrictIdentityMode() {
			t.Fatalf("StrictIdentityMode() = true, want false")
		}
	})
}
