// Package models declares the social entity kinds: users, profiles, posts,
// categories and the post_categories junction.
package models

import (
	"sync"

	"github.com/marshallshelly/pebble-integrity/pkg/registry"
)

// User is the root entity.
type User struct {
	ID       int64   `po:"id,primaryKey,serial"`
	FullName *string `po:"full_name,text"`
	Phone    *string `po:"phone,varchar(100)"`
	Address  *string `po:"address,varchar(100)"`
	Score    *int64  `po:"score,integer"`

	Profile *Profile `po:"profile,hasOne,foreignKey(user_id)"`
	Posts   []Post   `po:"posts,hasMany,foreignKey(author_id)"`
}

func (User) TableName() string { return "users" }

// Profile belongs to exactly one user and is removed with it.
type Profile struct {
	ID     int64   `po:"id,primaryKey,serial"`
	Bio    *string `po:"bio,varchar(256)"`
	UserID int64   `po:"user_id,integer,notNull,fk(users.id),onDelete(cascade)"`

	User *User `po:"user,belongsTo,foreignKey(user_id)"`
}

func (Profile) TableName() string { return "profiles" }

// Post is authored by a user. Users with posts cannot be deleted.
type Post struct {
	ID       int64   `po:"id,primaryKey,serial"`
	Text     *string `po:"text,varchar(256)"`
	AuthorID int64   `po:"author_id,integer,notNull,fk(users.id)"`

	Author         *User          `po:"author,belongsTo,foreignKey(author_id)"`
	Categories     []Category     `po:"categories,manyToMany,joinTable(post_categories)"`
	PostCategories []PostCategory `po:"post_categories,hasMany,foreignKey(post_id)"`
}

func (Post) TableName() string { return "posts" }

type Category struct {
	ID   int64   `po:"id,primaryKey,serial"`
	Name *string `po:"name,varchar(256)"`

	Posts          []Post         `po:"posts,manyToMany,joinTable(post_categories)"`
	PostCategories []PostCategory `po:"post_categories,hasMany,foreignKey(category_id)"`
}

func (Category) TableName() string { return "categories" }

// PostCategory links a post to a category. The pair is its identity.
type PostCategory struct {
	PostID     int64 `po:"post_id,primaryKey,integer,notNull,fk(posts.id)"`
	CategoryID int64 `po:"category_id,primaryKey,integer,notNull,fk(categories.id)"`

	Post     *Post     `po:"post,belongsTo,foreignKey(post_id)"`
	Category *Category `po:"category,belongsTo,foreignKey(category_id)"`
}

func (PostCategory) TableName() string { return "post_categories" }

// All lists the models in registration order.
func All() []any {
	return []any{User{}, Profile{}, Post{}, Category{}, PostCategory{}}
}

var (
	once      sync.Once
	shared    *registry.Registry
	sharedErr error
)

// Registry returns the process-wide frozen registry of the social kinds.
// It is built on first use and the same instance is returned afterwards.
func Registry() (*registry.Registry, error) {
	once.Do(func() {
		shared, sharedErr = NewRegistry()
	})
	return shared, sharedErr
}

// NewRegistry builds and freezes a fresh registry holding the social kinds.
func NewRegistry() (*registry.Registry, error) {
	reg := registry.NewRegistry()
	for _, model := range All() {
		if err := reg.Register(model); err != nil {
			return nil, err
		}
	}
	if err := reg.Freeze(); err != nil {
		return nil, err
	}
	return reg, nil
}
