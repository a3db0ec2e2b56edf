package httpapi

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"checkin/internal/auth"
	"checkin/internal/logger"
	"checkin/internal/model"
	"checkin/internal/session"
	"checkin/internal/speech"
)

const sessionKey = "session"

type credentialsRequest struct {
	Username string     `json:"username"`
	Password string     `json:"password"`
	Role     model.Role `json:"role"`
}

func (s *Server) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := s.sessions.Register(c.Request.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (s *Server) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	_, state, err := s.sessions.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	s.issue(c, state)
}

func (s *Server) voiceRegister(c *gin.Context) {
	user, pass, err := s.voiceClips(c)
	if err != nil {
		fail(c, err)
		return
	}
	role := model.Role(c.PostForm("role"))
	u, err := s.sessions.NewSession().VoiceRegister(c.Request.Context(), s.transcriber, user, pass, role)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (s *Server) voiceLogin(c *gin.Context) {
	user, pass, err := s.voiceClips(c)
	if err != nil {
		fail(c, err)
		return
	}
	sess := s.sessions.NewSession()
	state, err := sess.VoiceLogin(c.Request.Context(), s.transcriber, user, pass)
	if err != nil {
		fail(c, err)
		return
	}
	s.sessions.Adopt(sess)
	s.issue(c, state)
}

// voiceClips reads the username and password recordings of a voice form.
func (s *Server) voiceClips(c *gin.Context) (speech.Clip, speech.Clip, error) {
	if s.transcriber == nil {
		return speech.Clip{}, speech.Clip{}, speech.ErrUnsupported
	}
	user, err := formClip(c, "username")
	if err != nil {
		return speech.Clip{}, speech.Clip{}, err
	}
	pass, err := formClip(c, "password")
	if err != nil {
		return speech.Clip{}, speech.Clip{}, err
	}
	return user, pass, nil
}

func formClip(c *gin.Context, field string) (speech.Clip, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return speech.Clip{}, fmt.Errorf("%w: %s recording missing", speech.ErrRecognition, field)
	}
	data, err := readFile(fh)
	if err != nil {
		return speech.Clip{}, err
	}
	return speech.Clip{Data: data, ContentType: fh.Header.Get("Content-Type"), Filename: fh.Filename}, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) issue(c *gin.Context, state model.Session) {
	tok, err := auth.Issue(state, s.cfg.Issuer, s.cfg.SigningKey, s.cfg.TokenTTL)
	if err != nil {
		s.sessions.Logout(state.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	s.sessions.SetExpiry(state.ID, tok.ExpiresAt)
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(auth.CookieName, tok.Value, int(s.cfg.TokenTTL.Seconds()), "/", "", s.cfg.SecureCookie, true)
	c.JSON(http.StatusOK, gin.H{
		"token":      tok.Value,
		"expires_at": tok.ExpiresAt.Unix(),
		"username":   state.Username,
		"role":       state.Role,
	})
}

// resolveSession maps the token's session id to the live session.
func (s *Server) resolveSession(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	sess, ok := s.sessions.Get(claims.SessionID())
	if !ok || !sess.Current().Authenticated() {
		fail(c, errSessionGone)
		return
	}
	c.Set(sessionKey, sess)
	c.Next()
}

func current(c *gin.Context) *session.Session {
	return c.MustGet(sessionKey).(*session.Session)
}

func (s *Server) logout(c *gin.Context) {
	s.sessions.Logout(current(c).Current().ID)
	c.SetCookie(auth.CookieName, "", -1, "/", "", s.cfg.SecureCookie, true)
	c.Status(http.StatusNoContent)
}

func (s *Server) pushFrame(c *gin.Context) {
	camera, err := current(c).Camera()
	if err != nil {
		fail(c, err)
		return
	}
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, ferr := c.FormFile("frame")
		if ferr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "frame field required"})
			return
		}
		data, ferr := readFile(fh)
		if ferr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "read frame failed"})
			return
		}
		err = camera.PushEncoded(data)
	} else {
		var body struct {
			Data string `json:"data" binding:"required"`
		}
		if berr := c.ShouldBindJSON(&body); berr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "provide {\"data\": \"<base64 data URL>\"}"})
			return
		}
		err = camera.PushDataURL(body.Data)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) checkIn(c *gin.Context) {
	rec, err := current(c).CheckIn(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) myAttendance(c *gin.Context) {
	records, err := current(c).MyRecords()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) allAttendance(c *gin.Context) {
	records, err := current(c).AllRecords()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) deleteAttendance(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be an integer"})
		return
	}
	removed, err := current(c).DeleteRecord(index)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed, "local_only": true})
}

func (s *Server) logs(c *gin.Context) {
	n := 100
	if v := c.Query("n"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	level := c.DefaultQuery("level", "INFO")
	c.JSON(http.StatusOK, gin.H{"entries": logger.Recent(n, level)})
}
