package model

// Article は雑誌の記事。
type Article struct {
	Title      string `yaml:"title" json:"title"`
	Subtitle   string `yaml:"subtitle,omitempty" json:"subtitle,omitempty"`
	Date       Date   `yaml:"date" json:"date"`
	LastUpdate Date   `yaml:"last_update,omitempty" json:"last_update,omitempty"`
	Author     string `yaml:"author" json:"author"`
	Category   string `yaml:"category" json:"category"`
	Issue      string `yaml:"issue,omitempty" json:"issue,omitempty"`
	Podcast    string `yaml:"podcast,omitempty" json:"podcast,omitempty"`
	Image      string `yaml:"image,omitempty" json:"image,omitempty"`
	Excerpt    string `yaml:"excerpt,omitempty" json:"excerpt,omitempty"`
	Published  bool   `yaml:"published" json:"published"`
	InEvidence bool   `yaml:"in_evidence" json:"in_evidence"`
	Base       `yaml:",inline"`
}

func (*Article) Kind() Kind           { return KindArticle }
func (a *Article) SlugSource() string { return a.Title }
func (a *Article) PublishedOn() Date  { return a.Date }
func (a *Article) LastUpdated() Date  { return a.LastUpdate }
func (a *Article) Touch(day Date)     { a.LastUpdate = day }

func (*Article) RequiredFields() []string {
	return []string{"title", "date", "author", "category"}
}

func (a *Article) Validate() error {
	if err := requireFields("title", a.Title, "author", a.Author, "category", a.Category); err != nil {
		return err
	}
	if a.Date.IsZero() {
		return RequiredError("date")
	}
	return nil
}

func (a *Article) Refs() []Ref {
	var refs []Ref
	refs = appendRef(refs, KindAuthor, a.Author, "author")
	refs = appendRef(refs, KindCategory, a.Category, "category")
	refs = appendRef(refs, KindIssue, a.Issue, "issue")
	refs = appendRef(refs, KindPodcast, a.Podcast, "podcast")
	return refs
}

// Author は記事の執筆者。
type Author struct {
	Name  string `yaml:"name" json:"name"`
	Role  string `yaml:"role,omitempty" json:"role,omitempty"`
	Email string `yaml:"email,omitempty" json:"email,omitempty"`
	Image string `yaml:"image,omitempty" json:"image,omitempty"`
	Base  `yaml:",inline"`
}

func (*Author) Kind() Kind               { return KindAuthor }
func (a *Author) SlugSource() string     { return a.Name }
func (*Author) RequiredFields() []string { return []string{"name"} }
func (a *Author) Validate() error        { return requireFields("name", a.Name) }

// Category は記事の分類。表示順を持つ。
type Category struct {
	Name        string `yaml:"name" json:"name"`
	Color       string `yaml:"color,omitempty" json:"color,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Order       int    `yaml:"order" json:"order"`
	Base        `yaml:",inline"`
}

func (*Category) Kind() Kind               { return KindCategory }
func (c *Category) SlugSource() string     { return c.Name }
func (*Category) RequiredFields() []string { return []string{"name"} }
func (c *Category) Validate() error        { return requireFields("name", c.Name) }
func (c *Category) GetOrder() int          { return c.Order }
func (c *Category) SetOrder(order int)     { c.Order = order }

// Issue は雑誌の号。表示順を持つ。
type Issue struct {
	Title       string `yaml:"title" json:"title"`
	Date        Date   `yaml:"date,omitempty" json:"date,omitempty"`
	Cover       string `yaml:"cover,omitempty" json:"cover,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Color       string `yaml:"color,omitempty" json:"color,omitempty"`
	Published   bool   `yaml:"published" json:"published"`
	Order       int    `yaml:"order" json:"order"`
	Base        `yaml:",inline"`
}

func (*Issue) Kind() Kind               { return KindIssue }
func (i *Issue) SlugSource() string     { return i.Title }
func (*Issue) RequiredFields() []string { return []string{"title"} }
func (i *Issue) Validate() error        { return requireFields("title", i.Title) }
func (i *Issue) GetOrder() int          { return i.Order }
func (i *Issue) SetOrder(order int)     { i.Order = order }

// Podcast はポッドキャストのエピソード。
type Podcast struct {
	Title      string `yaml:"title" json:"title"`
	Date       Date   `yaml:"date" json:"date"`
	LastUpdate Date   `yaml:"last_update,omitempty" json:"last_update,omitempty"`
	Audio      string `yaml:"audio" json:"audio"`
	Cover      string `yaml:"cover,omitempty" json:"cover,omitempty"`
	Duration   int    `yaml:"duration,omitempty" json:"duration,omitempty"`
	Episode    int    `yaml:"episode,omitempty" json:"episode,omitempty"`
	Author     string `yaml:"author,omitempty" json:"author,omitempty"`
	Category   string `yaml:"category,omitempty" json:"category,omitempty"`
	Issue      string `yaml:"issue,omitempty" json:"issue,omitempty"`
	Published  bool   `yaml:"published" json:"published"`
	Base       `yaml:",inline"`
}

func (*Podcast) Kind() Kind           { return KindPodcast }
func (p *Podcast) SlugSource() string { return p.Title }
func (p *Podcast) PublishedOn() Date  { return p.Date }
func (p *Podcast) LastUpdated() Date  { return p.LastUpdate }
func (p *Podcast) Touch(day Date)     { p.LastUpdate = day }

func (*Podcast) RequiredFields() []string {
	return []string{"title", "date", "audio"}
}

func (p *Podcast) Validate() error {
	if err := requireFields("title", p.Title, "audio", p.Audio); err != nil {
		return err
	}
	if p.Date.IsZero() {
		return RequiredError("date")
	}
	return nil
}

func (p *Podcast) Refs() []Ref {
	var refs []Ref
	refs = appendRef(refs, KindAuthor, p.Author, "author")
	refs = appendRef(refs, KindCategory, p.Category, "category")
	refs = appendRef(refs, KindIssue, p.Issue, "issue")
	return refs
}

// Page は固定ページ。
type Page struct {
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Published   bool   `yaml:"published" json:"published"`
	Base        `yaml:",inline"`
}

func (*Page) Kind() Kind               { return KindPage }
func (p *Page) SlugSource() string     { return p.Title }
func (*Page) RequiredFields() []string { return []string{"title"} }
func (p *Page) Validate() error        { return requireFields("title", p.Title) }
