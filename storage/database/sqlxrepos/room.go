package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/booking"
	"github.com/trezcool/roomly/core/room"
)

var (
	roomColumns = []string{
		"r.id", "r.organization_id", "r.name", "r.description", "r.capacity", "r.hourly_rate",
		"r.opens_at", "r.closes_at", "r.is_active", "r.photo_path", "r.created_at", "r.updated_at",
	}
	roomOrderings = map[string]string{
		"name":        "r.name",
		"capacity":    "r.capacity",
		"hourly_rate": "r.hourly_rate",
		"created_at":  "r.created_at",
	}
)

type roomRow struct {
	ID             string          `db:"id"`
	OrganizationID string          `db:"organization_id"`
	Name           string          `db:"name"`
	Description    string          `db:"description"`
	Capacity       int             `db:"capacity"`
	HourlyRate     decimal.Decimal `db:"hourly_rate"`
	OpensAt        int             `db:"opens_at"`
	ClosesAt       int             `db:"closes_at"`
	IsActive       bool            `db:"is_active"`
	PhotoPath      string          `db:"photo_path"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

func newRoomRow(rm room.Room) roomRow {
	return roomRow{
		ID:             rm.ID,
		OrganizationID: rm.OrganizationID,
		Name:           rm.Name,
		Description:    rm.Description,
		Capacity:       rm.Capacity,
		HourlyRate:     rm.HourlyRate,
		OpensAt:        int(rm.OpensAt),
		ClosesAt:       int(rm.ClosesAt),
		IsActive:       rm.IsActive,
		PhotoPath:      rm.PhotoPath,
		CreatedAt:      rm.CreatedAt.UTC(),
		UpdatedAt:      rm.UpdatedAt.UTC(),
	}
}

func (row roomRow) toRoom() room.Room {
	return room.Room{
		ID:             row.ID,
		OrganizationID: row.OrganizationID,
		Name:           row.Name,
		Description:    row.Description,
		Capacity:       row.Capacity,
		HourlyRate:     row.HourlyRate,
		OpensAt:        booking.Minute(row.OpensAt),
		ClosesAt:       booking.Minute(row.ClosesAt),
		IsActive:       row.IsActive,
		PhotoPath:      row.PhotoPath,
		Amenities:      []room.Amenity{},
		Equipment:      []room.Equipment{},
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}
}

func (row roomRow) values() map[string]interface{} {
	return map[string]interface{}{
		"organization_id": row.OrganizationID,
		"name":            row.Name,
		"description":     row.Description,
		"capacity":        row.Capacity,
		"hourly_rate":     row.HourlyRate,
		"opens_at":        row.OpensAt,
		"closes_at":       row.ClosesAt,
		"is_active":       row.IsActive,
		"photo_path":      row.PhotoPath,
		"updated_at":      row.UpdatedAt,
	}
}

type roomRepository struct {
	baseRepository
}

var _ room.Repository = (*roomRepository)(nil)

func NewRoomRepository(db core.DBExecutor) room.Repository {
	return &roomRepository{baseRepository{db: db}}
}

func (repo *roomRepository) CreateRoom(ctx context.Context, rm room.Room, exec ...core.DBExecutor) (room.Room, error) {
	if rm.ID == "" {
		rm.ID = newID()
	}
	row := newRoomRow(rm)
	vals := row.values()
	vals["id"] = row.ID
	vals["created_at"] = row.CreatedAt

	if _, err := execute(ctx, repo.executor(exec), sq.Insert("rooms").SetMap(vals)); err != nil {
		return room.Room{}, errors.Wrap(err, "inserting room")
	}
	return row.toRoom(), nil
}

func (repo *roomRepository) GetRoom(ctx context.Context, id string, exec ...core.DBExecutor) (room.Room, error) {
	db := repo.executor(exec)

	var row roomRow
	q := sq.Select(roomColumns...).From("rooms r").Where(sq.Eq{"r.id": id})
	if err := get(ctx, db, &row, q, room.ErrNotFound); err != nil {
		return room.Room{}, err
	}

	rooms := []room.Room{row.toRoom()}
	if err := repo.loadRelations(ctx, db, rooms); err != nil {
		return room.Room{}, err
	}
	return rooms[0], nil
}

func (repo *roomRepository) QueryRooms(ctx context.Context, filter *room.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]room.Room, error) {
	db := repo.executor(exec)

	q := sq.Select(roomColumns...).From("rooms r").Join("organizations o ON o.id = r.organization_id")
	if filter != nil {
		filter.Clean()
		if filter.OrganizationID != "" {
			q = q.Where(sq.Eq{"r.organization_id": filter.OrganizationID})
		}
		if filter.MinCapacity > 0 {
			q = q.Where(sq.GtOrEq{"r.capacity": filter.MinCapacity})
		}
		if filter.AmenityID != "" {
			q = q.Where(sq.Expr("r.id IN (SELECT room_id FROM room_amenities WHERE amenity_id = ?)", filter.AmenityID))
		}
		if filter.Search != "" {
			pattern := like(filter.Search)
			q = q.Where(sq.Or{
				sq.Like{"LOWER(r.name)": pattern},
				sq.Like{"LOWER(r.description)": pattern},
			})
		}
		if filter.City != "" {
			q = q.Where(sq.Expr("LOWER(o.city) = LOWER(?)", filter.City))
		}
		if filter.ActiveOnly {
			q = q.Where(sq.Eq{"r.is_active": true, "o.is_active": true})
		}
	}
	q = orderBy(q, ordering, roomOrderings, "r.name ASC")

	var rows []roomRow
	if err := selectAll(ctx, db, &rows, q); err != nil {
		return nil, err
	}
	rooms := make([]room.Room, 0, len(rows))
	for _, row := range rows {
		rooms = append(rooms, row.toRoom())
	}
	if err := repo.loadRelations(ctx, db, rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// loadRelations fills the amenities & equipment of rooms in two queries.
func (repo *roomRepository) loadRelations(ctx context.Context, db core.DBExecutor, rooms []room.Room) error {
	if len(rooms) == 0 {
		return nil
	}
	ids := make([]string, 0, len(rooms))
	index := make(map[string]int, len(rooms))
	for i, rm := range rooms {
		ids = append(ids, rm.ID)
		index[rm.ID] = i
	}

	var amenities []struct {
		RoomID string `db:"room_id"`
		ID     string `db:"id"`
		Name   string `db:"name"`
	}
	q := sq.Select("ra.room_id", "a.id", "a.name").
		From("room_amenities ra").
		Join("amenities a ON a.id = ra.amenity_id").
		Where(sq.Eq{"ra.room_id": ids}).
		OrderBy("a.name ASC")
	if err := selectAll(ctx, db, &amenities, q); err != nil {
		return errors.Wrap(err, "loading amenities")
	}
	for _, am := range amenities {
		rm := &rooms[index[am.RoomID]]
		rm.Amenities = append(rm.Amenities, room.Amenity{ID: am.ID, Name: am.Name})
	}

	var equipment []equipmentRow
	q = sq.Select("id", "room_id", "name", "quantity").
		From("equipment").
		Where(sq.Eq{"room_id": ids}).
		OrderBy("name ASC")
	if err := selectAll(ctx, db, &equipment, q); err != nil {
		return errors.Wrap(err, "loading equipment")
	}
	for _, eq := range equipment {
		rm := &rooms[index[eq.RoomID]]
		rm.Equipment = append(rm.Equipment, room.Equipment(eq))
	}
	return nil
}

func (repo *roomRepository) UpdateRoom(ctx context.Context, rm room.Room, exec ...core.DBExecutor) (room.Room, error) {
	row := newRoomRow(rm)
	n, err := execute(ctx, repo.executor(exec), sq.Update("rooms").SetMap(row.values()).Where(sq.Eq{"id": row.ID}))
	if err != nil {
		return room.Room{}, errors.Wrap(err, "updating room")
	}
	if n == 0 {
		return room.Room{}, room.ErrNotFound
	}
	updated := row.toRoom()
	updated.Amenities, updated.Equipment = rm.Amenities, rm.Equipment
	return updated, nil
}

func (repo *roomRepository) DeleteRoom(ctx context.Context, id string, exec ...core.DBExecutor) error {
	n, err := execute(ctx, repo.executor(exec), sq.Delete("rooms").Where(sq.Eq{"id": id}))
	if err != nil {
		return errors.Wrap(err, "deleting room")
	}
	if n == 0 {
		return room.ErrNotFound
	}
	return nil
}

func (repo *roomRepository) SetRoomAmenities(ctx context.Context, roomID string, amenityIDs []string, exec ...core.DBExecutor) error {
	db := repo.executor(exec)
	if _, err := execute(ctx, db, sq.Delete("room_amenities").Where(sq.Eq{"room_id": roomID})); err != nil {
		return errors.Wrap(err, "clearing room amenities")
	}
	if len(amenityIDs) == 0 {
		return nil
	}

	q := sq.Insert("room_amenities").Columns("room_id", "amenity_id")
	seen := make(map[string]bool, len(amenityIDs))
	for _, id := range amenityIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		q = q.Values(roomID, id)
	}
	if _, err := execute(ctx, db, q); err != nil {
		if isForeignKeyViolation(err) {
			return room.ErrAmenityNotFound
		}
		return errors.Wrap(err, "inserting room amenities")
	}
	return nil
}

func (repo *roomRepository) CreateAmenity(ctx context.Context, am room.Amenity, exec ...core.DBExecutor) (room.Amenity, error) {
	if am.ID == "" {
		am.ID = newID()
	}
	q := sq.Insert("amenities").Columns("id", "name").Values(am.ID, am.Name)
	if _, err := execute(ctx, repo.executor(exec), q); err != nil {
		if isUniqueViolation(err) {
			return room.Amenity{}, room.ErrAmenityExists
		}
		return room.Amenity{}, errors.Wrap(err, "inserting amenity")
	}
	return am, nil
}

func (repo *roomRepository) QueryAmenities(ctx context.Context, ids []string, exec ...core.DBExecutor) ([]room.Amenity, error) {
	q := sq.Select("id", "name").From("amenities").OrderBy("name ASC")
	if len(ids) > 0 {
		q = q.Where(sq.Eq{"id": ids})
	}
	amenities := []room.Amenity{}
	var rows []struct {
		ID   string `db:"id"`
		Name string `db:"name"`
	}
	if err := selectAll(ctx, repo.executor(exec), &rows, q); err != nil {
		return nil, err
	}
	for _, row := range rows {
		amenities = append(amenities, room.Amenity{ID: row.ID, Name: row.Name})
	}
	return amenities, nil
}

func (repo *roomRepository) UpdateAmenity(ctx context.Context, am room.Amenity, exec ...core.DBExecutor) (room.Amenity, error) {
	n, err := execute(ctx, repo.executor(exec), sq.Update("amenities").Set("name", am.Name).Where(sq.Eq{"id": am.ID}))
	if err != nil {
		if isUniqueViolation(err) {
			return room.Amenity{}, room.ErrAmenityExists
		}
		return room.Amenity{}, errors.Wrap(err, "updating amenity")
	}
	if n == 0 {
		return room.Amenity{}, room.ErrAmenityNotFound
	}
	return am, nil
}

func (repo *roomRepository) DeleteAmenity(ctx context.Context, id string, exec ...core.DBExecutor) error {
	n, err := execute(ctx, repo.executor(exec), sq.Delete("amenities").Where(sq.Eq{"id": id}))
	if err != nil {
		return errors.Wrap(err, "deleting amenity")
	}
	if n == 0 {
		return room.ErrAmenityNotFound
	}
	return nil
}

type equipmentRow struct {
	ID       string `db:"id"`
	RoomID   string `db:"room_id"`
	Name     string `db:"name"`
	Quantity int    `db:"quantity"`
}

func (repo *roomRepository) CreateEquipment(ctx context.Context, eq room.Equipment, exec ...core.DBExecutor) (room.Equipment, error) {
	if eq.ID == "" {
		eq.ID = newID()
	}
	q := sq.Insert("equipment").
		Columns("id", "room_id", "name", "quantity").
		Values(eq.ID, eq.RoomID, eq.Name, eq.Quantity)
	if _, err := execute(ctx, repo.executor(exec), q); err != nil {
		if isForeignKeyViolation(err) {
			return room.Equipment{}, room.ErrNotFound
		}
		return room.Equipment{}, errors.Wrap(err, "inserting equipment")
	}
	return eq, nil
}

func (repo *roomRepository) DeleteEquipment(ctx context.Context, roomID, id string, exec ...core.DBExecutor) error {
	n, err := execute(ctx, repo.executor(exec), sq.Delete("equipment").Where(sq.Eq{"id": id, "room_id": roomID}))
	if err != nil {
		return errors.Wrap(err, "deleting equipment")
	}
	if n == 0 {
		return room.ErrEquipmentNotFound
	}
	return nil
}
