package handlers

import (
	"net/http"
	"strings"

	apperrors "github.com/eodiceanne-star/heard-app-beta/internal/errors"
	"github.com/eodiceanne-star/heard-app-beta/internal/models"
)

// =====================================================
// Validators
// =====================================================

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return apperrors.New(apperrors.ErrInvalid, field+" is required")
	}
	return nil
}

// ValidateSymptom requires a date and a pain level between 0 and 10.
func ValidateSymptom(e *models.SymptomEntry) error {
	if err := required("date", e.Date); err != nil {
		return err
	}
	if e.PainLevel < 0 || e.PainLevel > 10 {
		return apperrors.Newf(apperrors.ErrInvalid, "painLevel must be between 0 and 10, got %d", e.PainLevel)
	}
	return nil
}

// ValidateAppointment requires a title and a date.
func ValidateAppointment(a *models.Appointment) error {
	if err := required("title", a.Title); err != nil {
		return err
	}
	return required("date", a.Date)
}

// ValidateDoctor requires a name.
func ValidateDoctor(d *models.Doctor) error {
	return required("name", d.Name)
}

// ValidateReview requires a rating between 1 and 5.
func ValidateReview(r *models.Review) error {
	if r.Rating < 1 || r.Rating > 5 {
		return apperrors.Newf(apperrors.ErrInvalid, "rating must be between 1 and 5, got %v", r.Rating)
	}
	return nil
}

// ValidateThread requires a title.
func ValidateThread(t *models.ForumThread) error {
	return required("title", t.Title)
}

// ValidateTrack requires a title.
func ValidateTrack(m *models.MusicTrack) error {
	return required("title", m.Title)
}

// ValidateQuestion requires the question text.
func ValidateQuestion(q *models.CustomQuestion) error {
	return required("question", q.Question)
}

// =====================================================
// Profile
// =====================================================

// ProfileService is the profile surface of the data service.
type ProfileService interface {
	GetProfile() *models.Profile
	UpdateProfile(p models.Profile) (*models.Profile, error)
}

// ProfileHandler handles the singleton profile.
type ProfileHandler struct {
	profile ProfileService
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(profile ProfileService) *ProfileHandler {
	return &ProfileHandler{profile: profile}
}

// Get handles GET /api/profile
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	p := h.profile.GetProfile()
	if p == nil {
		writeError(w, apperrors.New(apperrors.ErrNotFound, "no profile stored"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Update handles PUT /api/profile
// The body replaces the stored profile.
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}

	var p models.Profile
	if err := decodeBody(w, r, &p); err != nil {
		writeError(w, err)
		return
	}
	updated, err := h.profile.UpdateProfile(p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// =====================================================
// Reviews and comments
// =====================================================

// CommunityService adds reviews to doctors and comments to threads.
type CommunityService interface {
	AddReview(doctorID string, review models.Review) (*models.Review, error)
	AddComment(threadID string, comment models.ForumComment) (*models.ForumComment, error)
}

// CommunityHandler handles nested reviews and comments.
type CommunityHandler struct {
	community CommunityService
}

// NewCommunityHandler creates a new CommunityHandler.
func NewCommunityHandler(community CommunityService) *CommunityHandler {
	return &CommunityHandler{community: community}
}

// AddReview handles POST /api/doctors/{id}/reviews
func (h *CommunityHandler) AddReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var review models.Review
	if err := decodeBody(w, r, &review); err != nil {
		writeError(w, err)
		return
	}
	if err := ValidateReview(&review); err != nil {
		writeError(w, err)
		return
	}
	created, err := h.community.AddReview(r.PathValue("id"), review)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// AddComment handles POST /api/forum/threads/{id}/comments
func (h *CommunityHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var comment models.ForumComment
	if err := decodeBody(w, r, &comment); err != nil {
		writeError(w, err)
		return
	}
	if err := required("content", comment.Content); err != nil {
		writeError(w, err)
		return
	}
	created, err := h.community.AddComment(r.PathValue("id"), comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}
