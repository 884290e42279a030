package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketgate/server/internal/model"
)

// adminLoginResponse matches POST /admin/login response.
type adminLoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Manager     struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"manager"`
}

func (s *testServer) adminLogin(t *testing.T, client *http.Client, email, password string) string {
	t.Helper()
	resp := postJSON(t, client, s.BaseURL()+"/admin/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	defer resp.Body.Close()
	body := readBody(resp)
	require.Equal(t, http.StatusOK, resp.StatusCode, "admin login must succeed; body: %s", body)
	var res adminLoginResponse
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	require.NotEmpty(t, res.AccessToken)
	return res.AccessToken
}

// TestScanE2E runs the complete device lifecycle against a live server:
// enrollment through the admin surface, authorization, concurrent
// redemption, secret rotation and the audit trail.
func TestScanE2E(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping E2E test")
	}

	ts := newTestServer(t)
	baseURL := ts.BaseURL()
	client := ts.Server.Client()

	t.Run("A_ConcurrentRedemption", func(t *testing.T) {
		ts.Truncate(t)
		f := ts.seed(t)
		token := ts.authorize(t, client, f).AccessToken

		// N devices racing on one code must produce exactly one VALID.
		const n = 10
		results := make(chan string, n)
		errs := make(chan error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp := postJSON(t, client, baseURL+"/tickets/scan-secure", token, map[string]string{
					"event_id":    f.Event.ID.String(),
					"ticket_code": f.Ticket.Code,
				})
				defer resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					errs <- fmt.Errorf("scan returned %d: %s", resp.StatusCode, readBody(resp))
					return
				}
				var res scanAPIResponse
				if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
					errs <- err
					return
				}
				results <- res.Result
			}()
		}
		wg.Wait()
		close(results)
		close(errs)

		for err := range errs {
			t.Fatalf("concurrent scan failed: %v", err)
		}
		valid, used := 0, 0
		for r := range results {
			switch r {
			case "VALID":
				valid++
			case "ALREADY_USED":
				used++
			default:
				t.Fatalf("unexpected result %s", r)
			}
		}
		assert.Equal(t, 1, valid, "exactly one concurrent scan wins")
		assert.Equal(t, n-1, used)
	})

	t.Run("B_AdminEnrollmentFlow", func(t *testing.T) {
		ts.Truncate(t)
		f := ts.seed(t)
		adminToken := ts.adminLogin(t, client, f.Manager.Email, f.ManagerPassword)

		// Enroll a new device; the secret appears in this response only.
		respCreate := postJSON(t, client, baseURL+"/admin/devices", adminToken, map[string]string{
			"name":          "Side entrance",
			"staff_user_id": f.Staff.ID.String(),
			"event_id":      f.Event.ID.String(),
		})
		createBody := readBody(respCreate)
		respCreate.Body.Close()
		require.Equal(t, http.StatusCreated, respCreate.StatusCode, "device enrollment must return 201; body: %s", createBody)
		var created struct {
			Device struct {
				ID             string `json:"id"`
				DevicePublicID string `json:"device_public_id"`
			} `json:"device"`
			DeviceSecret string `json:"device_secret"`
		}
		require.NoError(t, json.Unmarshal([]byte(createBody), &created))
		require.NotEmpty(t, created.DeviceSecret)

		// The new device can authorize with the issued secret.
		respAuth := postJSON(t, client, baseURL+"/devices/authorize", "", map[string]string{
			"device_public_id":    created.Device.DevicePublicID,
			"device_secret":       created.DeviceSecret,
			"staff_user_email":    f.Staff.Email,
			"staff_user_password": f.StaffPassword,
		})
		authBody := readBody(respAuth)
		respAuth.Body.Close()
		require.Equal(t, http.StatusOK, respAuth.StatusCode, "new device authorize must succeed; body: %s", authBody)

		// Listing shows both devices and never the secret hash.
		listReq, err := http.NewRequest(http.MethodGet, baseURL+"/admin/devices", nil)
		require.NoError(t, err)
		listReq.Header.Set("Authorization", "Bearer "+adminToken)
		listResp, err := client.Do(listReq)
		require.NoError(t, err)
		defer listResp.Body.Close()
		listBody := readBody(listResp)
		assert.Equal(t, http.StatusOK, listResp.StatusCode)
		assert.NotContains(t, listBody, "secret", "device listing must not expose secret material")
	})

	t.Run("C_RotateSecretRevokesSessions", func(t *testing.T) {
		ts.Truncate(t)
		f := ts.seed(t)
		adminToken := ts.adminLogin(t, client, f.Manager.Email, f.ManagerPassword)
		deviceToken := ts.authorize(t, client, f).AccessToken

		respRotate := postJSON(t, client, baseURL+"/admin/devices/"+f.Device.ID.String()+"/rotate-secret", adminToken, map[string]string{})
		rotateBody := readBody(respRotate)
		respRotate.Body.Close()
		require.Equal(t, http.StatusOK, respRotate.StatusCode, "rotate must succeed; body: %s", rotateBody)
		var rotated struct {
			DeviceSecret string `json:"device_secret"`
		}
		require.NoError(t, json.Unmarshal([]byte(rotateBody), &rotated))
		require.NotEmpty(t, rotated.DeviceSecret)
		assert.NotEqual(t, f.DeviceSecret, rotated.DeviceSecret)

		// Tokens issued under the old secret are dead.
		respScan := postJSON(t, client, baseURL+"/tickets/scan-secure", deviceToken, map[string]string{
			"event_id":    f.Event.ID.String(),
			"ticket_code": f.Ticket.Code,
		})
		respScan.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, respScan.StatusCode, "token from before rotation must return 401")

		// The old secret no longer authorizes; the new one does.
		respOld := postJSON(t, client, baseURL+"/devices/authorize", "", authorizeBody(f, f.Staff.Email, f.StaffPassword))
		respOld.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, respOld.StatusCode)

		respNew := postJSON(t, client, baseURL+"/devices/authorize", "", map[string]string{
			"device_public_id":    f.Device.DevicePublicID,
			"device_secret":       rotated.DeviceSecret,
			"staff_user_email":    f.Staff.Email,
			"staff_user_password": f.StaffPassword,
		})
		defer respNew.Body.Close()
		assert.Equal(t, http.StatusOK, respNew.StatusCode, "new secret must authorize; body: %s", readBody(respNew))
	})

	t.Run("D_DeactivationRevokesSessions", func(t *testing.T) {
		ts.Truncate(t)
		f := ts.seed(t)
		adminToken := ts.adminLogin(t, client, f.Manager.Email, f.ManagerPassword)
		deviceToken := ts.authorize(t, client, f).AccessToken

		patchBody, err := json.Marshal(map[string]bool{"is_active": false})
		require.NoError(t, err)
		patchReq, err := http.NewRequest(http.MethodPatch, baseURL+"/admin/devices/"+f.Device.ID.String(), bytes.NewReader(patchBody))
		require.NoError(t, err)
		patchReq.Header.Set("Content-Type", "application/json")
		patchReq.Header.Set("Authorization", "Bearer "+adminToken)
		respDeactivate, err := client.Do(patchReq)
		require.NoError(t, err)
		deactivateBody := readBody(respDeactivate)
		respDeactivate.Body.Close()
		require.Equal(t, http.StatusOK, respDeactivate.StatusCode, "deactivation must succeed; body: %s", deactivateBody)

		respScan := postJSON(t, client, baseURL+"/tickets/scan-secure", deviceToken, map[string]string{
			"event_id":    f.Event.ID.String(),
			"ticket_code": f.Ticket.Code,
		})
		respScan.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, respScan.StatusCode, "token of a deactivated device must return 401")

		respAuth := postJSON(t, client, baseURL+"/devices/authorize", "", authorizeBody(f, f.Staff.Email, f.StaffPassword))
		defer respAuth.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, respAuth.StatusCode, "deactivated device must not re-authorize")
	})

	t.Run("E_ScanLogsAuditTrail", func(t *testing.T) {
		ts.Truncate(t)
		f := ts.seed(t)
		adminToken := ts.adminLogin(t, client, f.Manager.Email, f.ManagerPassword)
		deviceToken := ts.authorize(t, client, f).AccessToken

		other, err := ts.Events.Create(context.Background(), model.Event{OrganizerID: f.Manager.ID, Name: "Other Night"})
		require.NoError(t, err)

		// One WRONG_EVENT, one VALID, one ALREADY_USED on the same ticket.
		for _, eventID := range []string{other.ID.String(), f.Event.ID.String(), f.Event.ID.String()} {
			resp := postJSON(t, client, baseURL+"/tickets/scan-secure", deviceToken, map[string]string{
				"event_id":    eventID,
				"ticket_code": f.Ticket.Code,
			})
			require.Equal(t, http.StatusOK, resp.StatusCode)
			resp.Body.Close()
		}

		req, err := http.NewRequest(http.MethodGet, baseURL+"/admin/scan-logs?ticket_id="+f.Ticket.ID.String(), nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+adminToken)
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		logsBody := readBody(resp)
		require.Equal(t, http.StatusOK, resp.StatusCode, "scan log query must succeed; body: %s", logsBody)

		var logs struct {
			Entries []struct {
				Result      string `json:"result"`
				DeviceID    string `json:"device_id"`
				StaffUserID string `json:"staff_user_id"`
			} `json:"entries"`
		}
		require.NoError(t, json.Unmarshal([]byte(logsBody), &logs))
		require.Len(t, logs.Entries, 3, "every attempt must leave one audit entry")
		assert.Equal(t, "WRONG_EVENT", logs.Entries[0].Result)
		assert.Equal(t, "VALID", logs.Entries[1].Result)
		assert.Equal(t, "ALREADY_USED", logs.Entries[2].Result)
		for _, e := range logs.Entries {
			assert.Equal(t, f.Device.ID.String(), e.DeviceID)
			assert.Equal(t, f.Staff.ID.String(), e.StaffUserID)
		}
	})
}
