package api

import (
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quotapanel/quotapanel/internal/errors"
	"github.com/quotapanel/quotapanel/internal/models"
	"github.com/quotapanel/quotapanel/internal/transport"
)

// maxUploadBytes caps credential uploads; auth files are a few KB.
const maxUploadBytes = 1 << 20

// fail writes the uniform error envelope. The UI boundary always receives
// {success:false, error}, never a stack trace.
func fail(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

// failStatus maps an error to its HTTP status.
func failStatus(err error) int {
	var notFound *errors.ErrAccountNotFound
	if stderrors.As(err, &notFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListAccounts(c *gin.Context) {
	accounts, err := s.agg.ListAccounts()
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "accounts": accounts})
}

func (s *Server) handleQuotaAll(c *gin.Context) {
	results, err := s.agg.AggregateAll(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "results": results})
}

func (s *Server) handleQuotaOne(c *gin.Context) {
	email := decodeEmail(c)
	snapshot, err := s.agg.QuotaForOne(c.Request.Context(), email)
	if err != nil {
		fail(c, failStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "email": email, "quota": snapshot})
}

func (s *Server) handleForceRefresh(c *gin.Context) {
	email := decodeEmail(c)
	snapshot, err := s.agg.ForceRefresh(c.Request.Context(), email)
	if err != nil {
		fail(c, failStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "email": email, "quota": snapshot})
}

func (s *Server) handleUpload(c *gin.Context) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes))
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	entry, err := s.agg.ImportCredential(raw)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "Auth file uploaded successfully",
		"fileName": filepath.Base(entry.Path),
	})
}

func (s *Server) handleDeleteAccount(c *gin.Context) {
	email := decodeEmail(c)
	if err := s.agg.DeleteAccount(email); err != nil {
		fail(c, failStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Account deleted successfully"})
}

func (s *Server) handleDownloadAccount(c *gin.Context) {
	email := decodeEmail(c)
	entry, err := s.agg.FindCredential(email)
	if err != nil {
		fail(c, failStatus(err), err)
		return
	}
	name := filepath.Base(entry.Path)
	c.FileAttachment(entry.Path, name)
}

func (s *Server) handleCache(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "cache": s.agg.CachedQuotas()})
}

func (s *Server) handleSnapshots(c *gin.Context) {
	if s.snapshots == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "snapshots": gin.H{}})
		return
	}
	all, err := s.snapshots.All()
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "snapshots": all})
}

func (s *Server) handleAuthLogin(c *gin.Context) {
	redirectURI := callbackURI(c)
	c.JSON(http.StatusOK, gin.H{"success": true, "url": s.flow.AuthURL(redirectURI)})
}

func (s *Server) handleAuthCallback(c *gin.Context) {
	if errParam := c.Query("error"); errParam != "" {
		c.String(http.StatusBadRequest, "Authentication failed: %s", errParam)
		return
	}
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		c.String(http.StatusBadRequest, "Missing code or state")
		return
	}
	if !s.flow.ConsumeState(state) {
		c.String(http.StatusBadRequest, "Invalid state")
		return
	}

	email, err := s.flow.Exchange(c.Request.Context(), code, callbackURI(c))
	if err != nil {
		s.logger.Error("oauth exchange failed", "error", err.Error())
		c.String(http.StatusInternalServerError, "Authentication failed: %s", err.Error())
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, callbackSuccessPage, email)
}

const callbackSuccessPage = `<html>
  <head><title>Authentication Successful</title></head>
  <body>
    <h1>Authentication Successful!</h1>
    <p>You can close this window now.</p>
    <script>
      if (window.opener) {
        window.opener.postMessage({ type: 'AUTH_SUCCESS', email: '%s' }, '*');
        window.close();
      }
    </script>
  </body>
</html>`

func (s *Server) handleGetProxy(c *gin.Context) {
	cfg, err := s.proxyStore.Load()
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "proxy": cfg})
}

func (s *Server) handleSaveProxy(c *gin.Context) {
	var cfg models.ProxyConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := s.proxyStore.Save(&cfg); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	// Live transports pick the new proxy up on the next request.
	if s.transport != nil {
		if err := s.transport.Reload(&cfg); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "proxy": &cfg})
}

type proxyTestRequest struct {
	Type models.ProxyType `json:"type"`
	URL  string           `json:"url"`
}

func (s *Server) handleTestProxy(c *gin.Context) {
	var req proxyTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if !models.ValidProxyType(req.Type) {
		fail(c, http.StatusBadRequest, fmt.Errorf("unknown proxy type %q", req.Type))
		return
	}
	if err := transport.Test(c.Request.Context(), req.Type, req.URL); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Proxy connection OK"})
}

func decodeEmail(c *gin.Context) string {
	raw := c.Param("email")
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

func callbackURI(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/api/auth/callback", scheme, c.Request.Host)
}
