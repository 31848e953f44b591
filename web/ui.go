package web

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/Toromino/kibou-sub000/db"
	"github.com/Toromino/kibou-sub000/util"
)

// profileTemplate is the minimal HTML profile served to browsers. The real
// surface of this node is ActivityPub; the HTML page only needs to exist
// so profile links resolve to something readable.
var profileTemplate = template.Must(template.New("profile").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Name}} (@{{.Handle}})</title>
<style>
body { font-family: sans-serif; max-width: 40rem; margin: 2rem auto; padding: 0 1rem; color: #222; }
header { border-bottom: 1px solid #ddd; padding-bottom: 1rem; }
article { border-bottom: 1px solid #eee; padding: 1rem 0; }
time { color: #777; font-size: 0.85rem; }
</style>
</head>
<body>
<header>
<h1>{{.Name}}</h1>
<p>@{{.Handle}}</p>
{{if .Summary}}<p>{{.Summary}}</p>{{end}}
</header>
<main>
{{range .Notes}}<article>{{.Content}}<br><time>{{.Published}}</time></article>
{{else}}<p>No public posts yet.</p>
{{end}}
</main>
</body>
</html>
`))

type profileNote struct {
	Content   template.HTML
	Published string
}

type profilePage struct {
	Name    string
	Handle  string
	Summary template.HTML
	Notes   []profileNote
}

// GetProfileHTML renders a local actor's public profile page.
func GetProfileHTML(username string, conf *util.AppConfig) (error, string) {
	database := db.GetDB()

	err, actor := database.ReadLocalActorByUsername(username)
	if err != nil {
		return err, ""
	}

	name := actor.Name
	if name == "" {
		name = actor.PreferredUsername
	}

	page := profilePage{
		Name:   name,
		Handle: fmt.Sprintf("%s@%s", actor.PreferredUsername, conf.Endpoint.BaseDomain),
		// Summaries are sanitized before storage
		Summary: template.HTML(actor.Summary),
	}

	err, activities := database.ReadPublicNotesByActor(actor.ActorURI, rssFeedSize)
	if err == nil && activities != nil {
		for _, activity := range *activities {
			doc, err := activity.Document()
			if err != nil {
				continue
			}
			object, ok := doc["object"].(map[string]any)
			if !ok {
				continue
			}
			content, _ := object["content"].(string)
			published, _ := object["published"].(string)
			page.Notes = append(page.Notes, profileNote{
				Content:   template.HTML(content),
				Published: published,
			})
		}
	}

	var out strings.Builder
	if err := profileTemplate.Execute(&out, page); err != nil {
		return err, ""
	}
	return nil, out.String()
}
