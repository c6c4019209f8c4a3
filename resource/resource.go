// Package resource describes the collections the site manages: their
// document shape, id prefix and, for pages addressed by name, the field a
// slug is derived from.
package resource

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// CarouselImage is a home page slide.
type CarouselImage struct {
	ImageURL string `json:"imageUrl" validate:"required,url"`
	Alt      string `json:"alt" validate:"max=200"`
	Caption  string `json:"caption" validate:"max=500"`
	Link     string `json:"link" validate:"omitempty,url"`
	Order    int    `json:"order" validate:"gte=0"`
}

// Member is a group member profile.
type Member struct {
	Name     string   `json:"name" validate:"required,max=100"`
	Role     string   `json:"role" validate:"max=100"`
	Bio      string   `json:"bio"`
	ImageURL string   `json:"imageUrl" validate:"omitempty,url"`
	Birthday string   `json:"birthday" validate:"omitempty,datetime=2006-01-02"`
	Socials  []string `json:"socials" validate:"dive,url"`
}

// GalleryItem is one photo in the gallery.
type GalleryItem struct {
	Title    string `json:"title" validate:"required,max=200"`
	ImageURL string `json:"imageUrl" validate:"required,url"`
	Category string `json:"category" validate:"max=50"`
}

// MusicVideo is a release with an embedded video.
type MusicVideo struct {
	Title       string `json:"title" validate:"required,max=200"`
	VideoURL    string `json:"videoUrl" validate:"required,url"`
	ReleaseDate string `json:"releaseDate" validate:"omitempty,datetime=2006-01-02"`
	Album       string `json:"album" validate:"max=200"`
}

// ScheduleEvent is a dated appearance.
type ScheduleEvent struct {
	Title    string `json:"title" validate:"required,max=200"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	Time     string `json:"time" validate:"omitempty,datetime=15:04"`
	Location string `json:"location" validate:"max=200"`
	Type     string `json:"type" validate:"omitempty,oneof=concert broadcast release fanmeeting other"`
}

// NewsArticle is a news post.
type NewsArticle struct {
	Title    string `json:"title" validate:"required,max=300"`
	Content  string `json:"content" validate:"required"`
	Excerpt  string `json:"excerpt" validate:"max=500"`
	ImageURL string `json:"imageUrl" validate:"omitempty,url"`
	Views    int    `json:"views" validate:"gte=0"`
}

// User is an admin account record. Credentials are not handled here.
type User struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"max=100"`
	Role  string `json:"role" validate:"omitempty,oneof=admin editor"`
}

// Resource describes one managed collection.
type Resource struct {
	// Collection is the store collection name.
	Collection string
	// IDPrefix is passed to ident.NewID for new documents.
	IDPrefix string
	// SlugFrom names the field a slug is derived from; empty means the
	// resource has no slug.
	SlugFrom string

	model func() any
}

var registry = map[string]Resource{
	"carousel": {Collection: "carousel", IDPrefix: "carousel_", model: func() any { return &CarouselImage{} }},
	"members":  {Collection: "members", IDPrefix: "member_", SlugFrom: "name", model: func() any { return &Member{} }},
	"gallery":  {Collection: "gallery", IDPrefix: "gallery_", model: func() any { return &GalleryItem{} }},
	"music":    {Collection: "music", IDPrefix: "music_", SlugFrom: "title", model: func() any { return &MusicVideo{} }},
	"schedule": {Collection: "schedule", IDPrefix: "event_", model: func() any { return &ScheduleEvent{} }},
	"news":     {Collection: "news", IDPrefix: "news_", SlugFrom: "title", model: func() any { return &NewsArticle{} }},
	"users":    {Collection: "users", IDPrefix: "user_", model: func() any { return &User{} }},
}

// Lookup returns the resource stored in collection name.
func Lookup(name string) (Resource, bool) {
	r, ok := registry[name]
	return r, ok
}

// Names returns every resource collection name, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var validate = newValidator()

// newValidator reports fields by their JSON name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidationError lists the fields of a document that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, rule := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: failed %s", f, rule))
	}
	sort.Strings(parts)
	return "invalid document: " + strings.Join(parts, "; ")
}

// Validate decodes doc into the resource's model and checks its rules.
// Fields the model does not know about are ignored, not rejected.
func (r Resource) Validate(doc map[string]any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	v := r.model()
	if err := json.Unmarshal(raw, v); err != nil {
		return &ValidationError{Fields: map[string]string{fieldOf(err): "type"}}
	}
	if err := validate.Struct(v); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		return &ValidationError{Fields: fields}
	}
	return nil
}

// SlugSource returns the text a slug should be derived from, or "".
func (r Resource) SlugSource(doc map[string]any) string {
	if r.SlugFrom == "" {
		return ""
	}
	s, _ := doc[r.SlugFrom].(string)
	return s
}

func fieldOf(err error) string {
	if te, ok := err.(*json.UnmarshalTypeError); ok && te.Field != "" {
		return te.Field
	}
	return "document"
}
