package room

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/organization"
	"github.com/trezcool/roomly/core/user"
)

// MaxPhotoSize is the largest accepted room photo, in bytes.
const MaxPhotoSize = 5 << 20

var (
	// errors
	ErrNotFound          = core.NewNotFoundError("room not found")
	ErrAmenityNotFound   = core.NewNotFoundError("amenity not found")
	ErrEquipmentNotFound = core.NewNotFoundError("equipment not found")
	ErrAmenityExists     = errors.New("an amenity with this name already exists")

	photoExts = map[string]string{
		"image/jpeg": ".jpg",
		"image/png":  ".png",
		"image/gif":  ".gif",
		"image/webp": ".webp",
	}
)

type (
	Repository interface {
		CreateRoom(ctx context.Context, rm Room, exec ...core.DBExecutor) (Room, error)
		// GetRoom returns the room with its amenities & equipment.
		GetRoom(ctx context.Context, id string, exec ...core.DBExecutor) (Room, error)
		// QueryRooms applies AND operation on available QueryFilter fields.
		QueryRooms(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Room, error)
		UpdateRoom(ctx context.Context, rm Room, exec ...core.DBExecutor) (Room, error)
		DeleteRoom(ctx context.Context, id string, exec ...core.DBExecutor) error
		// SetRoomAmenities replaces the room's amenities.
		SetRoomAmenities(ctx context.Context, roomID string, amenityIDs []string, exec ...core.DBExecutor) error

		CreateAmenity(ctx context.Context, am Amenity, exec ...core.DBExecutor) (Amenity, error)
		QueryAmenities(ctx context.Context, ids []string, exec ...core.DBExecutor) ([]Amenity, error)
		UpdateAmenity(ctx context.Context, am Amenity, exec ...core.DBExecutor) (Amenity, error)
		DeleteAmenity(ctx context.Context, id string, exec ...core.DBExecutor) error

		CreateEquipment(ctx context.Context, eq Equipment, exec ...core.DBExecutor) (Equipment, error)
		DeleteEquipment(ctx context.Context, roomID, id string, exec ...core.DBExecutor) error
	}

	Service interface {
		Create(ctx context.Context, nr NewRoom, actor user.User) (Room, error)
		// Get returns the room if it is bookable or if the actor is its staff; actor may be nil.
		Get(ctx context.Context, id string, actor *user.User) (Room, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, actor *user.User) ([]Room, error)
		Update(ctx context.Context, id string, ur UpdateRoom, actor user.User) (Room, error)
		Delete(ctx context.Context, id string, actor user.User) error
		SetAmenities(ctx context.Context, id string, amenityIDs []string, actor user.User) (Room, error)
		AddEquipment(ctx context.Context, roomID string, ne NewEquipment, actor user.User) (Equipment, error)
		RemoveEquipment(ctx context.Context, roomID, equipmentID string, actor user.User) error
		// UploadPhoto stores an image under the media directory and makes it the room's photo.
		UploadPhoto(ctx context.Context, roomID string, r io.Reader, actor user.User) (Room, error)

		Amenities(ctx context.Context) ([]Amenity, error)
		CreateAmenity(ctx context.Context, na NewAmenity, actor user.User) (Amenity, error)
		UpdateAmenity(ctx context.Context, id string, na NewAmenity, actor user.User) (Amenity, error)
		DeleteAmenity(ctx context.Context, id string, actor user.User) error
	}

	service struct {
		db       core.DB
		repo     Repository
		orgRepo  organization.Repository
		mediaDir string
	}
)

var _ Service = (*service)(nil)

func NewService(db core.DB, repo Repository, orgRepo organization.Repository, conf *core.Config) Service {
	return &service{
		db:       db,
		repo:     repo,
		orgRepo:  orgRepo,
		mediaDir: conf.MediaDir,
	}
}

// IsStaff reports whether usr may manage the rooms of the organization with the given ID.
func IsStaff(usr *user.User, orgID string) bool {
	return usr != nil && (usr.IsAdmin() || usr.BelongsTo(orgID))
}

func (svc *service) Create(ctx context.Context, nr NewRoom, actor user.User) (Room, error) {
	orgID := nr.OrganizationID
	if orgID == "" {
		orgID = actor.OrganizationID
	}
	if !IsStaff(&actor, orgID) {
		return Room{}, core.ErrPermissionDenied
	}
	if _, err := svc.orgRepo.GetOrganization(ctx, orgID); err != nil {
		if core.IsNotFound(err) {
			return Room{}, core.NewValidationError(err, core.FieldError{Field: "organization_id", Error: "organization not found"})
		}
		return Room{}, errors.Wrap(err, "getting organization")
	}
	if err := svc.checkAmenities(ctx, nr.AmenityIDs); err != nil {
		return Room{}, err
	}

	now := time.Now().UTC()
	rm := Room{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Name:           nr.Name,
		Description:    nr.Description,
		Capacity:       nr.Capacity,
		HourlyRate:     nr.HourlyRate.Round(2),
		OpensAt:        nr.OpensAt,
		ClosesAt:       nr.ClosesAt,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := core.RunInTx(ctx, svc.db, nil, func(tx core.DBExecutor) error {
		if _, err := svc.repo.CreateRoom(ctx, rm, tx); err != nil {
			return errors.Wrap(err, "creating room")
		}
		return errors.Wrap(svc.repo.SetRoomAmenities(ctx, rm.ID, nr.AmenityIDs, tx), "setting room amenities")
	})
	if err != nil {
		return Room{}, err
	}
	return svc.repo.GetRoom(ctx, rm.ID)
}

func (svc *service) Get(ctx context.Context, id string, actor *user.User) (Room, error) {
	rm, err := svc.repo.GetRoom(ctx, id)
	if err != nil {
		return Room{}, err
	}
	if IsStaff(actor, rm.OrganizationID) {
		return rm, nil
	}
	if !rm.IsActive {
		return Room{}, ErrNotFound
	}
	org, err := svc.orgRepo.GetOrganization(ctx, rm.OrganizationID)
	if err != nil {
		return Room{}, errors.Wrap(err, "getting organization")
	}
	if !org.IsActive {
		return Room{}, ErrNotFound
	}
	return rm, nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, actor *user.User) ([]Room, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.Clean()
	if !(actor != nil && actor.IsAdmin()) && !(filter.OrganizationID != "" && IsStaff(actor, filter.OrganizationID)) {
		filter.ActiveOnly = true
	}
	return svc.repo.QueryRooms(ctx, filter, ordering)
}

func (svc *service) Update(ctx context.Context, id string, ur UpdateRoom, actor user.User) (Room, error) {
	orig, err := svc.getManaged(ctx, id, actor)
	if err != nil {
		return Room{}, err
	}
	rm, err := ur.Apply(orig)
	if err != nil {
		return Room{}, err
	}
	rm.HourlyRate = rm.HourlyRate.Round(2)
	rm.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateRoom(ctx, rm)
}

func (svc *service) Delete(ctx context.Context, id string, actor user.User) error {
	rm, err := svc.getManaged(ctx, id, actor)
	if err != nil {
		return err
	}
	if err = svc.repo.DeleteRoom(ctx, id); err != nil {
		return err
	}
	svc.removePhoto(rm.PhotoPath)
	return nil
}

func (svc *service) SetAmenities(ctx context.Context, id string, amenityIDs []string, actor user.User) (Room, error) {
	if _, err := svc.getManaged(ctx, id, actor); err != nil {
		return Room{}, err
	}
	if err := svc.checkAmenities(ctx, amenityIDs); err != nil {
		return Room{}, err
	}
	err := core.RunInTx(ctx, svc.db, nil, func(tx core.DBExecutor) error {
		return svc.repo.SetRoomAmenities(ctx, id, amenityIDs, tx)
	})
	if err != nil {
		return Room{}, errors.Wrap(err, "setting room amenities")
	}
	return svc.repo.GetRoom(ctx, id)
}

func (svc *service) AddEquipment(ctx context.Context, roomID string, ne NewEquipment, actor user.User) (Equipment, error) {
	if _, err := svc.getManaged(ctx, roomID, actor); err != nil {
		return Equipment{}, err
	}
	return svc.repo.CreateEquipment(ctx, Equipment{
		ID:       uuid.NewString(),
		RoomID:   roomID,
		Name:     ne.Name,
		Quantity: ne.Quantity,
	})
}

func (svc *service) RemoveEquipment(ctx context.Context, roomID, equipmentID string, actor user.User) error {
	if _, err := svc.getManaged(ctx, roomID, actor); err != nil {
		return err
	}
	return svc.repo.DeleteEquipment(ctx, roomID, equipmentID)
}

func (svc *service) UploadPhoto(ctx context.Context, roomID string, r io.Reader, actor user.User) (Room, error) {
	rm, err := svc.getManaged(ctx, roomID, actor)
	if err != nil {
		return Room{}, err
	}

	br := bufio.NewReaderSize(r, 512)
	head, err := br.Peek(512)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return Room{}, errors.Wrap(err, "reading photo")
	}
	ext, ok := photoExts[http.DetectContentType(head)]
	if !ok {
		return Room{}, core.NewValidationError(nil, core.FieldError{Field: "photo", Error: "only JPEG, PNG, GIF and WebP images are accepted"})
	}

	relPath := filepath.Join("rooms", uuid.NewString()+ext)
	absPath := filepath.Join(svc.mediaDir, relPath)
	if err = os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return Room{}, errors.Wrap(err, "creating media directory")
	}
	f, err := os.Create(absPath)
	if err != nil {
		return Room{}, errors.Wrap(err, "creating photo file")
	}
	n, err := io.Copy(f, io.LimitReader(br, MaxPhotoSize+1))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil || n > MaxPhotoSize {
		_ = os.Remove(absPath)
		if err != nil {
			return Room{}, errors.Wrap(err, "writing photo file")
		}
		return Room{}, core.NewValidationError(nil, core.FieldError{Field: "photo", Error: "the photo cannot exceed 5MB"})
	}

	oldPath := rm.PhotoPath
	rm.PhotoPath = filepath.ToSlash(relPath)
	rm.UpdatedAt = time.Now().UTC()
	if rm, err = svc.repo.UpdateRoom(ctx, rm); err != nil {
		_ = os.Remove(absPath)
		return Room{}, errors.Wrap(err, "updating room photo")
	}
	svc.removePhoto(oldPath)
	return rm, nil
}

func (svc *service) Amenities(ctx context.Context) ([]Amenity, error) {
	return svc.repo.QueryAmenities(ctx, nil)
}

func (svc *service) CreateAmenity(ctx context.Context, na NewAmenity, actor user.User) (Amenity, error) {
	if !actor.IsAdmin() {
		return Amenity{}, core.ErrPermissionDenied
	}
	am, err := svc.repo.CreateAmenity(ctx, Amenity{ID: uuid.NewString(), Name: na.Name})
	return am, amenityErr(err)
}

func (svc *service) UpdateAmenity(ctx context.Context, id string, na NewAmenity, actor user.User) (Amenity, error) {
	if !actor.IsAdmin() {
		return Amenity{}, core.ErrPermissionDenied
	}
	am, err := svc.repo.UpdateAmenity(ctx, Amenity{ID: id, Name: na.Name})
	return am, amenityErr(err)
}

func (svc *service) DeleteAmenity(ctx context.Context, id string, actor user.User) error {
	if !actor.IsAdmin() {
		return core.ErrPermissionDenied
	}
	return svc.repo.DeleteAmenity(ctx, id)
}

// getManaged returns the room with the given ID if the actor may manage it.
func (svc *service) getManaged(ctx context.Context, id string, actor user.User) (Room, error) {
	rm, err := svc.repo.GetRoom(ctx, id)
	if err != nil {
		return Room{}, err
	}
	if !IsStaff(&actor, rm.OrganizationID) {
		return Room{}, core.ErrPermissionDenied
	}
	return rm, nil
}

func (svc *service) checkAmenities(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	found, err := svc.repo.QueryAmenities(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "querying amenities")
	}
	known := make(map[string]bool, len(found))
	for _, am := range found {
		known[am.ID] = true
	}
	for _, id := range ids {
		if !known[id] {
			return core.NewValidationError(ErrAmenityNotFound, core.FieldError{Field: "amenity_ids", Error: "unknown amenity: " + id})
		}
	}
	return nil
}

func (svc *service) removePhoto(relPath string) {
	if relPath == "" || strings.Contains(relPath, "..") {
		return
	}
	_ = os.Remove(filepath.Join(svc.mediaDir, filepath.FromSlash(relPath)))
}

func amenityErr(err error) error {
	if errors.Cause(err) == ErrAmenityExists {
		return core.NewValidationError(err, core.FieldError{Field: "name", Error: ErrAmenityExists.Error()})
	}
	return err
}
