package manifest

import "strings"

// DefaultMenu is the category list written into a freshly bootstrapped manifest
var DefaultMenu = []string{
	"Salad",
	"Rolls",
	"Deserts",
	"Sandwich",
	"Cake",
	"Pure Veg",
	"Pasta",
	"Noodles",
}

// Template returns the bootstrap manifest: a header comment, an empty food_list
// and the default menu_list
func Template() string {
	var b strings.Builder
	b.WriteString("// Food imports will be added here automatically\n")
	b.WriteString("\n")
	b.WriteString("export const " + listMarker + "\n")
	b.WriteString(listEnd + "\n")
	b.WriteString("\n")
	b.WriteString("export const menu_list = [\n")
	for i, name := range DefaultMenu {
		b.WriteString(entryIndent + "{\n")
		b.WriteString(fieldIndent + "menu_name: " + quote(name) + ",\n")
		b.WriteString(fieldIndent + "menu_image: \"\"\n")
		b.WriteString(entryIndent + "}")
		if i < len(DefaultMenu)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString(listEnd + "\n")
	return b.String()
}
