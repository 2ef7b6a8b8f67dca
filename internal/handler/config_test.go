package handler_test

import (
	"net/http"
	"testing"

	"github.com/arborhq/arbor/internal/model"
)

func TestConfigAPI(t *testing.T) {
	env := newTestEnv(t)
	_, admin := env.seedUser(t, "root", model.RoleAdmin, "")
	_, owner := env.seedUser(t, "owner", model.RoleOwner, "t1")

	t.Run("owner lacks settings permissions", func(t *testing.T) {
		rr := env.do(t, "GET", "/api/config/", owner, nil)
		assertStatus(t, rr, http.StatusForbidden)
		rr = env.do(t, "PUT", "/api/config/BASE_URL/", owner, toJSON(t, map[string]string{"value": "x"}))
		assertStatus(t, rr, http.StatusForbidden)
	})

	t.Run("set and get", func(t *testing.T) {
		rr := env.do(t, "PUT", "/api/config/BASE_URL/", admin, toJSON(t, map[string]string{
			"value": "https://arbor.example",
		}))
		assertStatus(t, rr, http.StatusOK)

		rr = env.do(t, "GET", "/api/config/BASE_URL/", admin, nil)
		assertStatus(t, rr, http.StatusOK)
		var entry model.ConfigEntry
		decodeJSON(t, rr, &entry)
		if entry.Value != "https://arbor.example" {
			t.Errorf("value = %q", entry.Value)
		}

		rr = env.do(t, "GET", "/api/config/", admin, nil)
		assertStatus(t, rr, http.StatusOK)
		var all map[string]string
		decodeJSON(t, rr, &all)
		if all["BASE_URL"] != "https://arbor.example" {
			t.Errorf("list = %v", all)
		}
	})

	t.Run("disallowed key", func(t *testing.T) {
		rr := env.do(t, "PUT", "/api/config/SECRET_KEY/", admin, toJSON(t, map[string]string{"value": "x"}))
		assertStatus(t, rr, http.StatusBadRequest)

		rr = env.do(t, "GET", "/api/config/SECRET_KEY/", admin, nil)
		assertStatus(t, rr, http.StatusNotFound)

		rr = env.do(t, "DELETE", "/api/config/SECRET_KEY/", admin, nil)
		assertStatus(t, rr, http.StatusBadRequest)
	})

	t.Run("unset key reads as missing", func(t *testing.T) {
		rr := env.do(t, "GET", "/api/config/EMAIL_HOST/", admin, nil)
		assertStatus(t, rr, http.StatusNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		rr := env.do(t, "DELETE", "/api/config/BASE_URL/", admin, nil)
		assertStatus(t, rr, http.StatusOK)
		rr = env.do(t, "GET", "/api/config/BASE_URL/", admin, nil)
		assertStatus(t, rr, http.StatusNotFound)

		// Deleting an unset key stays a no-op.
		rr = env.do(t, "DELETE", "/api/config/BASE_URL/", admin, nil)
		assertStatus(t, rr, http.StatusOK)
	})
}
