package model

// Guild is what users know as a server: a named group of channels.
type Guild struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	OwnerID int64  `json:"owner_id"`
}

const (
	MinGuildNameLength = 3
	MaxGuildNameLength = 30
)

func NewGuild(id int64, name string, ownerID int64) (Guild, error) {
	g := Guild{ID: id, Name: name, OwnerID: ownerID}
	return g, g.Validate()
}

func (g Guild) Validate() error {
	if err := validateID(g.ID); err != nil {
		return err
	}
	if err := validateLength("name", g.Name, MinGuildNameLength, MaxGuildNameLength); err != nil {
		return err
	}
	if g.OwnerID <= 0 {
		return invalidf("owner id (%d) cannot be less than or equal to 0", g.OwnerID)
	}
	return nil
}
