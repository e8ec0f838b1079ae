package models

import (
	"github.com/ajitpratap0/brick2/pkg/datastore"
)

// User is an account that owns campaigns
type User struct {
	Base
	Email       string  `json:"email"`
	Username    string  `json:"username"`
	FullName    *string `json:"full_name"`
	IsActive    bool    `json:"is_active"`
	IsSuperuser bool    `json:"is_superuser"`
	Bio         *string `json:"bio"`
}

// TableName implements Record
func (User) TableName() string { return "users" }

// UsersTable describes the users table
var UsersTable = &Table{
	Name: "users",
	Columns: append(baseColumns(),
		Column{Name: "email", Kind: KindString, Writable: true, Required: true},
		Column{Name: "username", Kind: KindString, Writable: true, Required: true},
		Column{Name: "full_name", Kind: KindString, Writable: true},
		Column{Name: "hashed_password", Kind: KindString, Writable: true, Required: true, Hidden: true},
		Column{Name: "is_active", Kind: KindBool, Writable: true, Default: true},
		Column{Name: "is_superuser", Kind: KindBool, Writable: true, Default: false},
		Column{Name: "bio", Kind: KindString, Writable: true},
	),
	Decode: DecodeUser,
}

// DecodeUser maps a users row. The password hash is never materialized.
func DecodeUser(row datastore.Row) (Record, error) {
	if err := checkShape(row); err != nil {
		return nil, err
	}

	var u User
	for i, col := range row.Columns {
		v := row.Values[i]
		ok, err := u.decodeBase(col, v)
		if !ok {
			switch col {
			case "email":
				u.Email, err = String(v)
			case "username":
				u.Username, err = String(v)
			case "full_name":
				u.FullName, err = NullString(v)
			case "hashed_password":
			case "is_active":
				u.IsActive, err = Bool(v)
			case "is_superuser":
				u.IsSuperuser, err = Bool(v)
			case "bio":
				u.Bio, err = NullString(v)
			default:
				return nil, unknownColumn(row, "users", col)
			}
		}
		if err != nil {
			return nil, decodeError(row, col, err)
		}
	}
	return u, nil
}
