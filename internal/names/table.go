package names

// DefaultTable returns a freshly allocated table with Cyrillic
// transliteration, common given-name variants and Slavic surname endings.
func DefaultTable() Table {
	return Table{
		Transliteration: map[rune]string{
			'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "e",
			'ж': "zh", 'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m",
			'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
			'ф': "f", 'х': "kh", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "shch",
			'ъ': "", 'ы': "y", 'ь': "", 'э': "e", 'ю': "yu", 'я': "ya",
			'і': "i", 'ї': "yi", 'є': "ye", 'ґ': "g",
			'ł': "l", 'ø': "o", 'ß': "ss", 'đ': "d", 'æ': "ae", 'œ': "oe",
		},
		VariantGroups: [][]string{
			{"Robert", "Bob", "Bobby", "Rob", "Robbie"},
			{"William", "Bill", "Billy", "Will", "Willy", "Wilhelm"},
			{"John", "Jack", "Johnny", "Johann", "Jan", "Ivan", "Juan"},
			{"James", "Jim", "Jimmy", "Jamie"},
			{"Richard", "Dick", "Rick", "Richie"},
			{"Thomas", "Tom", "Tommy"},
			{"Edward", "Ed", "Eddie", "Ted", "Teddy"},
			{"Henry", "Harry", "Hank", "Heinrich"},
			{"Charles", "Charlie", "Chuck", "Karl", "Carl"},
			{"Joseph", "Joe", "Josef", "Iosif", "Osip"},
			{"Elizabeth", "Liz", "Beth", "Betty", "Eliza", "Elisabeth", "Yelizaveta", "Elizaveta"},
			{"Margaret", "Maggie", "Peggy", "Meg", "Margarita"},
			{"Catherine", "Katherine", "Kate", "Kathy", "Ekaterina", "Yekaterina", "Katya"},
			{"Mary", "Maria", "Mariya", "Marie", "Masha"},
			{"Anna", "Anne", "Ann", "Anya", "Hannah"},
			{"Helen", "Elena", "Yelena", "Lena"},
			{"Susan", "Sue", "Susie"},
			{"Patricia", "Pat", "Patty"},
			{"Alexander", "Alex", "Aleksandr", "Alexandr", "Sasha"},
			{"Michael", "Mike", "Mikhail", "Misha"},
			{"Peter", "Pete", "Pyotr", "Petr"},
			{"Nicholas", "Nick", "Nikolai", "Nikolay", "Kolya"},
			{"Dmitry", "Dmitri", "Dmitriy", "Dima"},
			{"Sergey", "Sergei", "Serge"},
			{"Vladimir", "Volodya", "Vova"},
			{"Tatiana", "Tatyana", "Tanya"},
			{"Natalia", "Natalya", "Natasha", "Natalie"},
			{"Olga", "Olya"},
			{"Anastasia", "Nastya"},
		},
		SurnameSuffixes: []SuffixPair{
			{Feminine: "skaya", Masculine: "skiy"},
			{Feminine: "ova", Masculine: "ov"},
			{Feminine: "eva", Masculine: "ev"},
			{Feminine: "ina", Masculine: "in"},
			{Feminine: "yna", Masculine: "yn"},
			{Feminine: "ska", Masculine: "ski"},
			{Feminine: "cka", Masculine: "cki"},
			{Feminine: "aya", Masculine: "iy"},
		},
	}
}
