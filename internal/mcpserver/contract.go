package mcpserver

// QueryLanguage describes the JSON query language accepted by the
// find_assets, find_relations and populate tools.
const QueryLanguage = `# Asset Graph Query Language

A query is a JSON object mapping attribute names to matchers. An asset or
relation matches when every key matches. An empty object matches everything.

## Matchers

| Form                        | Meaning                                            |
|-----------------------------|----------------------------------------------------|
| ` + "`" + `"Css"` + "`" + `, ` + "`" + `true` + "`" + `, ` + "`" + `3` + "`" + `         | strict equality                                    |
| ` + "`" + `["Css", "Html"]` + "`" + `           | any element matches                                |
| ` + "`" + `{"$regex": "\\.png$"}` + "`" + `     | regular expression against the stringified value   |
| ` + "`" + `{"$not": m}` + "`" + `               | negates the inner matcher                          |
| ` + "`" + `{"$defined": true}` + "`" + `        | attribute is set (false: attribute is absent)      |
| ` + "`" + `null` + "`" + `                      | attribute is absent                                |
| ` + "`" + `{"type": "Html"}` + "`" + `          | nested query against an asset held by a relation   |

## Asset attributes

- ` + "`" + `id` + "`" + `, ` + "`" + `url` + "`" + `, ` + "`" + `type` + "`" + ` (Html, Css, JavaScript, Png, Svg, Text, ...), ` + "`" + `contentType` + "`" + `
- ` + "`" + `isInline` + "`" + `, ` + "`" + `isLoaded` + "`" + `, ` + "`" + `isPopulated` + "`" + `
- ` + "`" + `fileName` + "`" + `, ` + "`" + `extension` + "`" + `, ` + "`" + `text` + "`" + `
- any extra attribute set when the asset was added

## Relation attributes

- ` + "`" + `id` + "`" + `, ` + "`" + `type` + "`" + ` (HtmlAnchor, HtmlStyle, HtmlImage, HtmlScript, CssImage, ...)
- ` + "`" + `href` + "`" + `, ` + "`" + `hrefType` + "`" + ` (absolute, protocolRelative, rootRelative, relative, inline)
- ` + "`" + `canonical` + "`" + `, ` + "`" + `crossorigin` + "`" + `, ` + "`" + `fragment` + "`" + `
- ` + "`" + `from` + "`" + `, ` + "`" + `to` + "`" + `: the source and target assets, matched with a nested query

## Examples

All stylesheets that are loaded:

` + "```" + `json
{"type": "Css", "isLoaded": true}
` + "```" + `

Images referenced from HTML whose target was never loaded:

` + "```" + `json
{"type": "HtmlImage", "to": {"isLoaded": false}}
` + "```" + `

Populate only same-origin relations, skipping anchors:

` + "```" + `json
{"crossorigin": false, "type": {"$not": "HtmlAnchor"}}
` + "```" + `
`
